package capture

import "strings"

// SelfFilter recognises frames that show Eidon itself.
type SelfFilter struct {
	// PID is this process's id.
	PID int

	// AppNames are window classes or app names that belong to Eidon.
	AppNames []string

	// URLPrefixes are addresses of the local web UI.
	URLPrefixes []string

	// TitleMarker is a string the web UI puts in every page title.
	TitleMarker string
}

// IsSelf reports whether w belongs to Eidon.
func (s SelfFilter) IsSelf(w Window) bool {
	if s.PID != 0 && w.PID == s.PID {
		return true
	}
	for _, name := range s.AppNames {
		if strings.EqualFold(w.AppName, name) {
			return true
		}
	}
	if w.URL != "" {
		for _, p := range s.URLPrefixes {
			if strings.HasPrefix(w.URL, p) {
				return true
			}
		}
	}
	return s.TitleMarker != "" && isBrowser(w.AppName) && strings.Contains(w.Title, s.TitleMarker)
}

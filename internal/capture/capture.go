// Package capture grabs screenshots and foreground-window metadata by shelling
// out to the platform's own tools (grim and hyprctl on Hyprland, screencapture
// and osascript on macOS). Screen-capture internals stay outside this module.
package capture

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"time"
)

// Window describes the foreground window.
type Window struct {
	AppName string
	Title   string
	// URL is set for browsers when the platform exposes it
	URL string
	PID int
}

// Frame is one screenshot plus the window that was in front when it was taken.
type Frame struct {
	Image     []byte
	Timestamp time.Time
	Window    Window
}

// Capturer produces frames.
type Capturer interface {
	// Name identifies the backend (e.g. "grim", "screencapture").
	Name() string

	// Available reports whether the backend's tools are installed.
	Available() bool

	// Capture takes a screenshot of the focused output.
	Capture(ctx context.Context) (*Frame, error)
}

// IdleDetector reports how long the user has been inactive.
type IdleDetector interface {
	IdleFor(ctx context.Context) (time.Duration, error)
}

// runFunc runs a command and returns its stdout.
type runFunc func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)

// Backends.
const (
	BackendAuto          = "auto"
	BackendGrim          = "grim"
	BackendScreencapture = "screencapture"
)

// DetectBackend resolves "auto" (or "") to a concrete backend for this session.
// It returns "" when no supported display server is found.
func DetectBackend(pref string) string {
	if pref != "" && pref != BackendAuto {
		return pref
	}
	if runtime.GOOS == "darwin" {
		return BackendScreencapture
	}
	if os.Getenv("HYPRLAND_INSTANCE_SIGNATURE") != "" || os.Getenv("WAYLAND_DISPLAY") != "" {
		return BackendGrim
	}
	return ""
}

// New returns the Capturer and IdleDetector for backend.
// An unknown or empty backend yields an Unavailable capturer, which always fails.
func New(backend string) (Capturer, IdleDetector) {
	switch DetectBackend(backend) {
	case BackendGrim:
		return NewHyprland(), NewHyprlandIdle()
	case BackendScreencapture:
		return NewMacOS(), NewMacOSIdle()
	}
	return Unavailable{}, nil
}

// Unavailable is the capturer used when no backend matches the session.
type Unavailable struct{}

// Name implements Capturer.
func (Unavailable) Name() string { return "unavailable" }

// Available implements Capturer.
func (Unavailable) Available() bool { return false }

// Capture implements Capturer.
func (Unavailable) Capture(ctx context.Context) (*Frame, error) {
	return nil, ErrNoBackend
}

// commandExists checks if a command is available in PATH.
func commandExists(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

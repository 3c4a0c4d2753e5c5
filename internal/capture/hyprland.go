package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Hyprland captures with grim and reads window info from hyprctl.
type Hyprland struct {
	run runFunc
	now func() time.Time
}

// NewHyprland returns the Wayland/Hyprland capturer.
func NewHyprland() *Hyprland {
	return &Hyprland{run: runCommand, now: time.Now}
}

// Name implements Capturer.
func (h *Hyprland) Name() string { return BackendGrim }

// Available implements Capturer.
func (h *Hyprland) Available() bool {
	return commandExists("grim") && commandExists("hyprctl")
}

// hyprWindow is the subset of `hyprctl activewindow -j` we use.
type hyprWindow struct {
	Address string `json:"address"`
	Class   string `json:"class"`
	Title   string `json:"title"`
	PID     int    `json:"pid"`
}

// hyprMonitor is the subset of `hyprctl monitors -j` we use.
type hyprMonitor struct {
	Name    string `json:"name"`
	Focused bool   `json:"focused"`
}

// Capture implements Capturer.
func (h *Hyprland) Capture(ctx context.Context) (*Frame, error) {
	ts := h.now()

	win, err := h.activeWindow(ctx)
	if err != nil {
		return nil, err
	}

	args := []string{"-"}
	if out := h.focusedOutput(ctx); out != "" {
		args = []string{"-o", out, "-"}
	}
	img, err := h.run(ctx, nil, "grim", args...)
	if err != nil {
		return nil, err
	}
	if len(img) == 0 {
		return nil, fmt.Errorf("grim returned no image data")
	}

	return &Frame{Image: img, Timestamp: ts, Window: win}, nil
}

func (h *Hyprland) activeWindow(ctx context.Context) (Window, error) {
	out, err := h.run(ctx, nil, "hyprctl", "activewindow", "-j")
	if err != nil {
		return Window{}, err
	}
	return parseHyprWindow(out)
}

// focusedOutput returns the focused monitor name, or "" to capture all outputs.
func (h *Hyprland) focusedOutput(ctx context.Context) string {
	out, err := h.run(ctx, nil, "hyprctl", "monitors", "-j")
	if err != nil {
		return ""
	}
	var monitors []hyprMonitor
	if err := json.Unmarshal(out, &monitors); err != nil {
		return ""
	}
	for _, m := range monitors {
		if m.Focused {
			return m.Name
		}
	}
	return ""
}

func parseHyprWindow(data []byte) (Window, error) {
	// hyprctl prints "{}" when no window has focus (empty workspace)
	var w hyprWindow
	if err := json.Unmarshal(data, &w); err != nil {
		return Window{}, fmt.Errorf("failed to parse hyprctl output: %w", err)
	}
	return Window{
		AppName: w.Class,
		Title:   w.Title,
		URL:     urlFromTitle(w.Class, w.Title),
		PID:     w.PID,
	}, nil
}

// urlFromTitle recovers a URL when a browser puts one in its title (some do for
// pages without a <title>). Otherwise the URL is left empty.
func urlFromTitle(class, title string) string {
	if !isBrowser(class) {
		return ""
	}
	for _, f := range strings.Fields(title) {
		if strings.HasPrefix(f, "https://") || strings.HasPrefix(f, "http://") {
			return f
		}
	}
	return ""
}

// isBrowser checks if an app class or name is a known browser.
func isBrowser(app string) bool {
	browsers := []string{
		"firefox", "chromium", "chrome", "google-chrome", "brave", "brave-browser",
		"microsoft-edge", "safari", "opera", "vivaldi", "librewolf", "zen", "arc",
	}
	app = strings.ToLower(app)
	for _, b := range browsers {
		if app == b || strings.Contains(app, b) {
			return true
		}
	}
	return false
}

// HyprlandIdle infers idleness from cursor movement and focus changes,
// since Wayland does not expose input events to clients.
type HyprlandIdle struct {
	run runFunc
	now func() time.Time

	mu           sync.Mutex
	lastX, lastY int
	lastAddr     string
	lastActivity time.Time
}

// NewHyprlandIdle returns an idle detector that polls hyprctl.
func NewHyprlandIdle() *HyprlandIdle {
	return &HyprlandIdle{run: runCommand, now: time.Now, lastActivity: time.Now()}
}

type hyprCursor struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// IdleFor implements IdleDetector.
func (d *HyprlandIdle) IdleFor(ctx context.Context) (time.Duration, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	out, err := d.run(ctx, nil, "hyprctl", "cursorpos", "-j")
	if err != nil {
		return 0, err
	}
	var pos hyprCursor
	if err := json.Unmarshal(out, &pos); err != nil {
		return 0, fmt.Errorf("failed to parse cursorpos: %w", err)
	}
	if pos.X != d.lastX || pos.Y != d.lastY {
		d.lastX, d.lastY = pos.X, pos.Y
		d.lastActivity = now
	}

	if out, err := d.run(ctx, nil, "hyprctl", "activewindow", "-j"); err == nil {
		var w hyprWindow
		if json.Unmarshal(out, &w) == nil && w.Address != d.lastAddr {
			d.lastAddr = w.Address
			d.lastActivity = now
		}
	}

	return now.Sub(d.lastActivity), nil
}

package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MacOS captures with screencapture and reads window info through osascript.
type MacOS struct {
	run runFunc
	now func() time.Time
}

// NewMacOS returns the macOS capturer.
func NewMacOS() *MacOS {
	return &MacOS{run: runCommand, now: time.Now}
}

// Name implements Capturer.
func (m *MacOS) Name() string { return BackendScreencapture }

// Available implements Capturer.
func (m *MacOS) Available() bool {
	return commandExists("screencapture") && commandExists("osascript")
}

const frontWindowScript = `tell application "System Events"
	set p to first application process whose frontmost is true
	set n to name of p
	set u to unix id of p
	set t to ""
	try
		set t to name of front window of p
	end try
	return n & "\n" & u & "\n" & t
end tell`

// Capture implements Capturer.
func (m *MacOS) Capture(ctx context.Context) (*Frame, error) {
	ts := m.now()

	out, err := m.run(ctx, nil, "osascript", "-e", frontWindowScript)
	if err != nil {
		return nil, err
	}
	win := parseFrontWindow(out)
	win.URL = m.browserURL(ctx, win.AppName)

	tmp, err := os.MkdirTemp("", "eidon-capture-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	path := filepath.Join(tmp, "frame.png")
	if _, err := m.run(ctx, nil, "screencapture", "-x", "-t", "png", path); err != nil {
		return nil, err
	}
	img, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read screenshot: %w", err)
	}

	return &Frame{Image: img, Timestamp: ts, Window: win}, nil
}

func parseFrontWindow(out []byte) Window {
	parts := strings.SplitN(strings.TrimRight(string(out), "\n"), "\n", 3)
	w := Window{}
	if len(parts) > 0 {
		w.AppName = strings.TrimSpace(parts[0])
	}
	if len(parts) > 1 {
		w.PID, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
	}
	if len(parts) > 2 {
		w.Title = strings.TrimSpace(parts[2])
	}
	return w
}

// browserURL asks scriptable browsers for the active tab's URL.
func (m *MacOS) browserURL(ctx context.Context, app string) string {
	var script string
	switch app {
	case "Safari":
		script = `tell application "Safari" to return URL of front document`
	case "Google Chrome", "Brave Browser", "Microsoft Edge", "Arc", "Chromium":
		script = fmt.Sprintf(`tell application %q to return URL of active tab of front window`, app)
	default:
		return ""
	}
	out, err := m.run(ctx, nil, "osascript", "-e", script)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// MacOSIdle reads HIDIdleTime from the IOHIDSystem registry entry.
type MacOSIdle struct {
	run runFunc
}

// NewMacOSIdle returns the macOS idle detector.
func NewMacOSIdle() *MacOSIdle {
	return &MacOSIdle{run: runCommand}
}

var hidIdleRegex = regexp.MustCompile(`"HIDIdleTime"\s*=\s*(\d+)`)

// IdleFor implements IdleDetector.
func (d *MacOSIdle) IdleFor(ctx context.Context) (time.Duration, error) {
	out, err := d.run(ctx, nil, "ioreg", "-c", "IOHIDSystem", "-d", "4")
	if err != nil {
		return 0, err
	}
	return parseHIDIdle(out)
}

func parseHIDIdle(out []byte) (time.Duration, error) {
	m := hidIdleRegex.FindSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("HIDIdleTime not found in ioreg output")
	}
	ns, err := strconv.ParseInt(string(m[1]), 10, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(ns), nil
}

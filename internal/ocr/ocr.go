// Package ocr extracts text from screenshots by shelling out to Tesseract.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Extractor turns an encoded image into text.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (string, error)
}

// Tesseract runs the tesseract CLI, reading the image from stdin.
type Tesseract struct {
	// Command is the tesseract binary (default: tesseract)
	Command string

	// Language is the Tesseract language code (default: eng)
	Language string
}

// NewTesseract returns a Tesseract extractor.
func NewTesseract(command, language string) *Tesseract {
	if command == "" {
		command = "tesseract"
	}
	if language == "" {
		language = "eng"
	}
	return &Tesseract{Command: command, Language: language}
}

// Available reports whether the tesseract binary is installed.
func (t *Tesseract) Available() bool {
	_, err := exec.LookPath(t.Command)
	return err == nil
}

// Args returns the tesseract arguments for a stdin-to-stdout run.
func (t *Tesseract) Args() []string {
	return []string{"stdin", "stdout", "-l", t.Language, "--psm", "3"}
}

// Extract implements Extractor.
func (t *Tesseract) Extract(ctx context.Context, image []byte) (string, error) {
	cmd := exec.CommandContext(ctx, t.Command, t.Args()...)
	cmd.Stdin = bytes.NewReader(image)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return Clean(stdout.String()), nil
}

// Noop extracts nothing. Used when OCR is disabled or unavailable.
type Noop struct{}

// Extract implements Extractor.
func (Noop) Extract(ctx context.Context, image []byte) (string, error) {
	return "", nil
}

// Clean trims each line, drops blank runs, and removes form feeds.
func Clean(s string) string {
	s = strings.ReplaceAll(s, "\f", "")
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

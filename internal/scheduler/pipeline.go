package scheduler

import (
	"context"
	"fmt"

	"github.com/hpungsan/eidon/internal/entry"
	"github.com/hpungsan/eidon/internal/errors"
	"github.com/hpungsan/eidon/internal/exclusion"
	"github.com/hpungsan/eidon/internal/ocr"
	"github.com/hpungsan/eidon/internal/similarity"
)

// Outcome says what happened to one capture attempt.
type Outcome string

const (
	OutcomeKept        Outcome = "kept"
	OutcomeSelf        Outcome = "self"
	OutcomeExcluded    Outcome = "excluded"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeStorageFull Outcome = "storage_full"
)

// Result reports one capture attempt.
type Result struct {
	Outcome Outcome `json:"outcome"`
	EntryID string  `json:"entry_id,omitempty"`

	// RuleID is the matching exclusion rule for OutcomeExcluded.
	RuleID string `json:"rule_id,omitempty"`

	// Similarity is the score against the last kept frame, when compared.
	Similarity *float64 `json:"similarity,omitempty"`
}

func (r Result) detail() string {
	switch {
	case r.RuleID != "":
		return " (rule " + r.RuleID + ")"
	case r.Similarity != nil:
		return fmt.Sprintf(" (similarity %.3f)", *r.Similarity)
	}
	return ""
}

// attempt runs the capture pipeline once. Callers hold captureMu.
//
// A capture backend failure moves the scheduler to Error and is returned as
// CaptureFailed. StorageFull is reported as an outcome, not an error.
func (s *Scheduler) attempt(ctx context.Context) (Result, error) {
	settings := s.d.Config.Current().Capture

	frame, err := s.d.Capturer.Capture(ctx)
	if err != nil {
		capErr := errors.NewCaptureFailed(err)
		s.fail(capErr)
		return Result{}, capErr
	}

	if settings.PreventSelfCapture && s.d.Self.IsSelf(frame.Window) {
		return Result{Outcome: OutcomeSelf}, nil
	}

	candidate := exclusion.Candidate{
		AppName:     frame.Window.AppName,
		WindowTitle: frame.Window.Title,
		URL:         frame.Window.URL,
	}
	if rule, excluded := s.d.Rules.Engine().Match(candidate); excluded {
		return Result{Outcome: OutcomeExcluded, RuleID: rule.ID}, nil
	}

	decoded, err := similarity.FromEncoded(frame.Image)
	if err != nil {
		return Result{}, errors.NewCaptureFailed(err)
	}

	var res Result
	if settings.SkipSimilarScreens {
		s.mu.Lock()
		prev := s.lastKept
		s.mu.Unlock()
		if prev != nil {
			score := s.d.Filter.Score(decoded.Fingerprint, *prev)
			res.Similarity = &score
		}
		if !s.d.Filter.ShouldKeep(decoded.Fingerprint, prev, settings.SimilarityThreshold) {
			res.Outcome = OutcomeDuplicate
			return res, nil
		}
	}

	text, err := s.d.OCR.Extract(ctx, frame.Image)
	if err != nil {
		s.d.Log.Warning("ocr: %v", err)
		text = ""
	}

	e := &entry.Entry{
		Timestamp:     frame.Timestamp,
		AppName:       frame.Window.AppName,
		WindowTitle:   frame.Window.Title,
		URL:           frame.Window.URL,
		ExtractedText: ocr.Clean(text),
		Width:         decoded.Width,
		Height:        decoded.Height,
		Fingerprint:   uint64(decoded.Fingerprint),
	}
	id, err := s.d.Store.Put(ctx, e, frame.Image)
	if errors.Is(err, errors.ErrStorageFull) {
		s.d.Log.Warning("capture not stored: %v; run cleanup or raise max_storage_size_bytes", err)
		res.Outcome = OutcomeStorageFull
		return res, nil
	}
	if err != nil {
		return Result{}, err
	}

	fp := decoded.Fingerprint
	s.mu.Lock()
	s.lastKept = &fp
	s.lastCapture = e.Timestamp
	s.captureCount++
	st := s.statusLocked()
	s.mu.Unlock()
	s.publish(st)

	if s.d.Index != nil {
		if err := s.d.Index.IndexEntry(ctx, e); err != nil {
			s.d.Log.Warning("index %s: %v", id, err)
		}
	}

	res.Outcome = OutcomeKept
	res.EntryID = id
	return res, nil
}

// fail moves the scheduler to Error.
func (s *Scheduler) fail(err error) {
	s.mu.Lock()
	s.state = StateError
	s.lastErr = err.Error()
	st := s.statusLocked()
	s.mu.Unlock()
	s.publish(st)
}

// Forget drops the last kept frame so the next capture is always kept.
func (s *Scheduler) Forget() {
	s.mu.Lock()
	s.lastKept = nil
	s.mu.Unlock()
}

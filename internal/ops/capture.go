package ops

import (
	"context"

	"github.com/hpungsan/eidon/internal/errors"
	"github.com/hpungsan/eidon/internal/scheduler"
)

// ToggleCaptureInput contains parameters for the ToggleCapture operation.
type ToggleCaptureInput struct {
	// Active is the target state: true resumes, false pauses. Required, so
	// a repeated command never turns into a second transition.
	Active *bool
}

// CaptureNowOutput contains the result of a manual capture.
type CaptureNowOutput struct {
	scheduler.Result
	Status scheduler.Status `json:"capture_status"`
}

func (s *Services) capture() (CaptureController, error) {
	if s.Capture == nil {
		return nil, errors.NewCaptureFailed(errNoDaemon)
	}
	return s.Capture, nil
}

// CaptureStatus returns the scheduler status.
func CaptureStatus(ctx context.Context, svc *Services) (*scheduler.Status, error) {
	c, err := svc.capture()
	if err != nil {
		return nil, err
	}
	st, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ToggleCapture pauses or resumes capture. Repeating the same request is a no-op.
func ToggleCapture(ctx context.Context, svc *Services, input ToggleCaptureInput) (*scheduler.Status, error) {
	if input.Active == nil {
		return nil, errors.NewInvalidRequest("active is required")
	}
	c, err := svc.capture()
	if err != nil {
		return nil, err
	}
	st, err := c.SetActive(ctx, *input.Active)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// CaptureNow takes one capture immediately.
func CaptureNow(ctx context.Context, svc *Services) (*CaptureNowOutput, error) {
	c, err := svc.capture()
	if err != nil {
		return nil, err
	}
	res, err := c.CaptureNow(ctx)
	if err != nil {
		return nil, err
	}
	st, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &CaptureNowOutput{Result: res, Status: st}, nil
}

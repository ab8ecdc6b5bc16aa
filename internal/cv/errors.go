package cv

import (
	"fmt"
)

// InvalidTemplateError reports a template the engine cannot correlate
type InvalidTemplateError struct {
	ID     string
	Reason string
}

func (e *InvalidTemplateError) Error() string {
	return fmt.Sprintf("invalid template %q: %s", e.ID, e.Reason)
}

// InvalidFrameError reports a frame the engine cannot search
type InvalidFrameError struct {
	Reason string
}

func (e *InvalidFrameError) Error() string {
	return "invalid frame: " + e.Reason
}

// CaptureError reports a failed or abandoned capture. It is never retried.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture failed: %v", e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

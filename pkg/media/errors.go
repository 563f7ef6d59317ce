package media

import "fmt"

// PermissionError means the microphone could not be acquired. The session can
// recover in place: fix the device or permissions and start recording again.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("microphone access denied or unavailable: %v", e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// MediaError means the capture device failed mid-recording. The session stays
// in place; the current answer can be re-recorded.
type MediaError struct {
	Err error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("recording device failure: %v", e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

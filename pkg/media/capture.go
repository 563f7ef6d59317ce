// Package media owns the local audio endpoints of an interview session: the
// microphone capture that produces answer artifacts and the playback of
// question prompts. Protocol rules (when recording may start) live in the
// orchestrator; these controllers stay stateless with respect to them.
package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

const (
	captureSampleRateHz  = 16000
	captureBitsPerSample = 16
	captureChannels      = 1
)

// Device is an open microphone stream of raw PCM.
type Device interface {
	io.ReadCloser
}

// OpenDeviceFunc acquires the microphone. The default spawns ffmpeg against
// the platform capture backend; tests inject their own.
type OpenDeviceFunc func() (Device, error)

// CaptureConfig configures the microphone controller.
type CaptureConfig struct {
	OpenDevice OpenDeviceFunc
	Logger     *slog.Logger
}

// Capture owns the microphone for the session lifetime. The device is
// acquired on the first Start and held until Close so consecutive recordings
// never race over acquisition; Close releases it on every exit path.
type Capture struct {
	open   OpenDeviceFunc
	logger *slog.Logger

	mu        sync.Mutex
	device    Device
	recording bool
	buf       []byte
	readErr   error
	closed    bool
}

// NewCapture creates an idle capture controller.
func NewCapture(cfg CaptureConfig) *Capture {
	open := cfg.OpenDevice
	if open == nil {
		open = func() (Device, error) { return OpenFFmpegMic(captureSampleRateHz) }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Capture{open: open, logger: logger}
}

// Start begins recording. A no-op if already recording. Acquisition failure
// returns *PermissionError and leaves the controller ready for a retry.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("capture is closed")
	}
	if c.recording {
		return nil
	}
	if c.device == nil {
		device, err := c.open()
		if err != nil {
			return &PermissionError{Err: err}
		}
		c.device = device
		c.readErr = nil
		go c.drain(device)
	}
	if c.readErr != nil {
		// Device died since acquisition; drop it and re-acquire next Start.
		err := c.readErr
		_ = c.device.Close()
		c.device = nil
		c.readErr = nil
		return &MediaError{Err: err}
	}
	c.buf = c.buf[:0]
	c.recording = true
	return nil
}

// Recording reports whether a recording is in progress.
func (c *Capture) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// Stop finalizes the recording and yields exactly one WAV artifact, then
// resets to ready. Calling Stop when not recording is a no-op returning
// (nil, nil). A device failure during the take returns *MediaError.
func (c *Capture) Stop() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recording {
		return nil, nil
	}
	c.recording = false
	if c.readErr != nil {
		err := c.readErr
		c.buf = c.buf[:0]
		return nil, &MediaError{Err: err}
	}
	artifact := EncodeWAV(c.buf, captureSampleRateHz, captureBitsPerSample, captureChannels)
	c.buf = c.buf[:0]
	return artifact, nil
}

// Close releases the device. Safe to call multiple times and when never
// started.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.recording = false
	if c.device != nil {
		err := c.device.Close()
		c.device = nil
		if err != nil {
			return fmt.Errorf("release capture device: %w", err)
		}
	}
	return nil
}

func (c *Capture) drain(device Device) {
	buf := make([]byte, 4096)
	for {
		n, err := device.Read(buf)
		c.mu.Lock()
		if c.closed || c.device != device {
			c.mu.Unlock()
			return
		}
		if n > 0 && c.recording {
			c.buf = append(c.buf, buf[:n]...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.readErr = err
			} else if c.recording {
				c.readErr = io.ErrUnexpectedEOF
			}
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}
}

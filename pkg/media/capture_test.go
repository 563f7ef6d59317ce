package media

import (
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"
)

// pipeDevice feeds scripted PCM into the capture drain loop.
type pipeDevice struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newPipeDevice() *pipeDevice {
	r, w := io.Pipe()
	return &pipeDevice{r: r, w: w}
}

func (d *pipeDevice) Read(p []byte) (int, error) { return d.r.Read(p) }
func (d *pipeDevice) Close() error               { return d.r.Close() }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestCapture_StartStopYieldsOneWAVArtifact(t *testing.T) {
	device := newPipeDevice()
	c := NewCapture(CaptureConfig{OpenDevice: func() (Device, error) { return device, nil }})
	defer c.Close()

	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("start while recording must be a no-op: %v", err)
	}

	pcm := []byte{1, 2, 3, 4, 5, 6}
	if _, err := device.w.Write(pcm); err != nil {
		t.Fatalf("feed device: %v", err)
	}
	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.buf) == len(pcm)
	})

	artifact, err := c.Stop()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(artifact) != 44+len(pcm) {
		t.Fatalf("artifact length = %d, want %d", len(artifact), 44+len(pcm))
	}
	if string(artifact[:4]) != "RIFF" || string(artifact[8:12]) != "WAVE" {
		t.Fatal("artifact is not a WAV container")
	}
	if got := binary.LittleEndian.Uint32(artifact[40:44]); got != uint32(len(pcm)) {
		t.Fatalf("data chunk size = %d, want %d", got, len(pcm))
	}
	if string(artifact[44:]) != string(pcm) {
		t.Fatal("captured samples do not match input")
	}
}

func TestCapture_StopWhenIdleIsNoOp(t *testing.T) {
	c := NewCapture(CaptureConfig{OpenDevice: func() (Device, error) { return newPipeDevice(), nil }})
	defer c.Close()
	artifact, err := c.Stop()
	if err != nil {
		t.Fatalf("stop when idle: %v", err)
	}
	if artifact != nil {
		t.Fatalf("artifact = %v, want nil", artifact)
	}
}

func TestCapture_PermissionErrorIsRetryable(t *testing.T) {
	attempts := 0
	device := newPipeDevice()
	c := NewCapture(CaptureConfig{OpenDevice: func() (Device, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("pulse: access denied")
		}
		return device, nil
	}})
	defer c.Close()

	err := c.Start()
	var perm *PermissionError
	if !errors.As(err, &perm) {
		t.Fatalf("err = %v, want *PermissionError", err)
	}
	if c.Recording() {
		t.Fatal("must not be recording after denial")
	}

	// Re-prompting is just starting again.
	if err := c.Start(); err != nil {
		t.Fatalf("retry start: %v", err)
	}
	if !c.Recording() {
		t.Fatal("expected recording after retry")
	}
}

func TestCapture_DeviceFailureMidTake(t *testing.T) {
	device := newPipeDevice()
	c := NewCapture(CaptureConfig{OpenDevice: func() (Device, error) { return device, nil }})
	defer c.Close()

	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	device.w.CloseWithError(errors.New("device unplugged"))
	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.readErr != nil
	})

	_, err := c.Stop()
	var mediaErr *MediaError
	if !errors.As(err, &mediaErr) {
		t.Fatalf("err = %v, want *MediaError", err)
	}
}

func TestCapture_CloseIdempotentAndReleasesDevice(t *testing.T) {
	device := newPipeDevice()
	c := NewCapture(CaptureConfig{OpenDevice: func() (Device, error) { return device, nil }})
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	// Device reader is closed; writes now fail.
	if _, err := device.w.Write([]byte{1}); err == nil {
		t.Fatal("device must be released on close")
	}
	if err := c.Start(); err == nil {
		t.Fatal("start after close must fail")
	}
}

func TestCapture_CloseWithoutStart(t *testing.T) {
	c := NewCapture(CaptureConfig{OpenDevice: func() (Device, error) { return newPipeDevice(), nil }})
	if err := c.Close(); err != nil {
		t.Fatalf("close without start: %v", err)
	}
}

package media

import (
	"errors"
	"log/slog"
	"sync"
)

// PlaybackProc is a running playback process consuming one audio artifact.
type PlaybackProc interface {
	Write(p []byte) (int, error)
	CloseWrite() error
	Wait() error
	Kill() error
}

// StartProcFunc launches a playback process. The default spawns ffplay; tests
// inject their own.
type StartProcFunc func() (PlaybackProc, error)

// PlayerConfig configures the playback controller.
type PlayerConfig struct {
	StartProc StartProcFunc
	Logger    *slog.Logger
}

// Player plays one audio artifact to completion and signals completion
// exactly once, whether playback ends naturally or is skipped.
type Player struct {
	start  StartProcFunc
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	current *playback
}

type playback struct {
	proc PlaybackProc
	done chan struct{}
	once sync.Once
}

func (p *playback) finish() {
	p.once.Do(func() { close(p.done) })
}

// NewPlayer creates an idle playback controller.
func NewPlayer(cfg PlayerConfig) *Player {
	start := cfg.StartProc
	if start == nil {
		start = func() (PlaybackProc, error) { return StartFFplay() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Player{start: start, logger: logger}
}

// Play starts playback of one artifact and returns a channel closed exactly
// once when playback finishes or is skipped. Any playback still active is
// skipped first.
func (p *Player) Play(artifact []byte) (<-chan struct{}, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("player is closed")
	}
	if prev := p.current; prev != nil {
		_ = prev.proc.Kill()
		prev.finish()
		p.current = nil
	}
	proc, err := p.start()
	if err != nil {
		p.mu.Unlock()
		return nil, &MediaError{Err: err}
	}
	pb := &playback{proc: proc, done: make(chan struct{})}
	p.current = pb
	p.mu.Unlock()

	go func() {
		if _, err := proc.Write(artifact); err != nil {
			p.logger.Warn("playback write failed", "error", err)
		}
		_ = proc.CloseWrite()
		if err := proc.Wait(); err != nil {
			p.logger.Warn("playback process exited with error", "error", err)
		}
		pb.finish()
		p.mu.Lock()
		if p.current == pb {
			p.current = nil
		}
		p.mu.Unlock()
	}()

	return pb.done, nil
}

// Skip cancels the active playback, if any, and signals its completion so the
// caller's transition logic is uniform. A no-op when nothing is playing.
func (p *Player) Skip() {
	p.mu.Lock()
	pb := p.current
	p.current = nil
	p.mu.Unlock()
	if pb == nil {
		return
	}
	_ = pb.proc.Kill()
	pb.finish()
}

// Close stops any active playback and releases the controller. Safe to call
// multiple times and when never started.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	pb := p.current
	p.current = nil
	p.mu.Unlock()
	if pb != nil {
		_ = pb.proc.Kill()
		pb.finish()
	}
	return nil
}

// Command interview-peer serves the simulated interviewer over a real
// websocket, so the live client path can be exercised end to end without the
// production interview service. Each connection gets its own isolated
// simulated session.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/hackabby/interview-live/pkg/session/protocol"
	"github.com/hackabby/interview-live/pkg/session/transport"
)

const (
	defaultAddr              = "127.0.0.1:8190"
	defaultQuestionCount     = 8
	defaultDelay             = 400 * time.Millisecond
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownGrace     = 10 * time.Second
)

type peerConfig struct {
	Addr          string
	QuestionCount int
	Delay         time.Duration
	Seed          int64
	Verbose       bool
}

func parsePeerConfig(args []string, getenv func(string) string) (peerConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	addr := strings.TrimSpace(getenv("INTERVIEW_PEER_ADDR"))
	if addr == "" {
		addr = defaultAddr
	}

	cfg := peerConfig{}
	fs := flag.NewFlagSet("interview-peer", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.Addr, "addr", addr, "listen address (or INTERVIEW_PEER_ADDR)")
	fs.IntVar(&cfg.QuestionCount, "questions", defaultQuestionCount, "questions per session")
	fs.DurationVar(&cfg.Delay, "delay", defaultDelay, "artificial response latency")
	fs.Int64Var(&cfg.Seed, "seed", 0, "session seed; 0 derives one per connection")
	fs.BoolVar(&cfg.Verbose, "v", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return peerConfig{}, err
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return peerConfig{}, errors.New("addr must not be empty")
	}
	if cfg.QuestionCount <= 0 {
		return peerConfig{}, errors.New("questions must be > 0")
	}
	return cfg, nil
}

// peerServer bridges websocket connections to per-connection simulated
// sessions.
type peerServer struct {
	cfg      peerConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	next int64
}

func newPeerServer(cfg peerConfig, logger *slog.Logger) *peerServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &peerServer{cfg: cfg, logger: logger}
}

func (p *peerServer) sessionSeed() int64 {
	if p.cfg.Seed != 0 {
		return p.cfg.Seed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return time.Now().UnixNano() + p.next
}

func (p *peerServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/session", p.handleSession)
	return mux
}

func (p *peerServer) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	sim := transport.NewSim(transport.SimConfig{
		QuestionCount: p.cfg.QuestionCount,
		Delay:         p.cfg.Delay,
		Seed:          p.sessionSeed(),
		Logger:        p.logger,
	})
	defer sim.Close()

	p.logger.Info("session opened", "remote", r.RemoteAddr)

	var writeMu sync.Mutex
	writeFrame := func(raw []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, raw)
	}

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for ev := range sim.Events() {
			msg, ok := ev.(transport.MessageEvent)
			if !ok {
				continue
			}
			raw, err := protocol.EncodeServerMessage(msg.Msg)
			if err != nil {
				p.logger.Error("encode response", "error", err)
				continue
			}
			if err := writeFrame(raw); err != nil {
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		msg, err := protocol.DecodeClientMessage(raw)
		if err != nil {
			p.rejectFrame(writeFrame, err)
			continue
		}
		if err := sim.Send(msg); err != nil {
			p.rejectFrame(writeFrame, err)
		}
	}

	sim.Close()
	<-pumpDone
	p.logger.Info("session closed", "remote", r.RemoteAddr)
}

func (p *peerServer) rejectFrame(writeFrame func([]byte) error, cause error) {
	raw, err := protocol.EncodeServerMessage(protocol.PeerError{
		Kind:    "bad_request",
		Message: cause.Error(),
	})
	if err != nil {
		return
	}
	if err := writeFrame(raw); err != nil {
		p.logger.Warn("write error frame", "error", err)
	}
}

func buildHTTPServer(cfg peerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
}

func runPeer(ctx context.Context, cfg peerConfig, logger *slog.Logger) error {
	srv := buildHTTPServer(cfg, newPeerServer(cfg, logger).handler())

	logger.Info("practice peer listening", "addr", cfg.Addr, "questions", cfg.QuestionCount)

	listenErrCh := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("practice peer stopped")
	return nil
}

func main() {
	_ = godotenv.Load()

	cfg, err := parsePeerConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "interview-peer: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runPeer(ctx, cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "interview-peer: %v\n", err)
		os.Exit(1)
	}
}

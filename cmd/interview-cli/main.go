// Command interview-cli runs one mock-interview attempt from the terminal.
// It speaks the interview protocol over a live websocket, or against the
// in-process simulated peer with -sim for offline practice runs.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hackabby/interview-live/pkg/media"
	"github.com/hackabby/interview-live/pkg/profile"
	"github.com/hackabby/interview-live/pkg/session"
	"github.com/hackabby/interview-live/pkg/session/protocol"
	"github.com/hackabby/interview-live/pkg/session/transport"
)

const (
	defaultQuestionCount = 8
	defaultSimDelay      = 400 * time.Millisecond
	defaultDialTimeout   = 15 * time.Second
)

type cliConfig struct {
	ServerURL     string
	Sim           bool
	Seed          int64
	QuestionCount int
	SimDelay      time.Duration
	DialTimeout   time.Duration
	CandidatePath string
	RolePath      string
	MetricsAddr   string
	ResultsPath   string
	Verbose       bool
}

func parseCLIConfig(args []string, getenv func(string) string) (cliConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := cliConfig{}
	fs := flag.NewFlagSet("interview-cli", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ServerURL, "url", strings.TrimSpace(getenv("INTERVIEW_SERVER_URL")), "interview server websocket URL (or INTERVIEW_SERVER_URL)")
	fs.BoolVar(&cfg.Sim, "sim", false, "run against the in-process simulated peer")
	fs.Int64Var(&cfg.Seed, "seed", time.Now().UnixNano(), "simulated peer seed")
	fs.IntVar(&cfg.QuestionCount, "questions", defaultQuestionCount, "number of questions in the session")
	fs.DurationVar(&cfg.SimDelay, "sim-delay", defaultSimDelay, "artificial latency of the simulated peer")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", defaultDialTimeout, "websocket dial timeout")
	fs.StringVar(&cfg.CandidatePath, "candidate", "candidate.yaml", "candidate profile YAML path")
	fs.StringVar(&cfg.RolePath, "role", "role.yaml", "role profile YAML path")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", strings.TrimSpace(getenv("INTERVIEW_METRICS_ADDR")), "optional address to expose Prometheus metrics on (or INTERVIEW_METRICS_ADDR)")
	fs.StringVar(&cfg.ResultsPath, "results", "", "optional path to write the final results as JSON")
	fs.BoolVar(&cfg.Verbose, "v", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	if err := validateCLIConfig(cfg); err != nil {
		return cliConfig{}, err
	}
	return cfg, nil
}

func validateCLIConfig(cfg cliConfig) error {
	if cfg.QuestionCount <= 0 {
		return errors.New("questions must be > 0")
	}
	if cfg.DialTimeout <= 0 {
		return errors.New("dial-timeout must be > 0")
	}
	if strings.TrimSpace(cfg.CandidatePath) == "" {
		return errors.New("candidate profile path must not be empty")
	}
	if strings.TrimSpace(cfg.RolePath) == "" {
		return errors.New("role profile path must not be empty")
	}
	if cfg.Sim {
		return nil
	}
	serverURL := strings.TrimSpace(cfg.ServerURL)
	if serverURL == "" {
		return errors.New("url is required unless -sim is set (or INTERVIEW_SERVER_URL)")
	}
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return errors.New("url must be a valid absolute URL")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("url scheme must be ws or wss")
	}
	return nil
}

func newLogger(cfg cliConfig, errOut io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))
}

func newTransport(cfg cliConfig, logger *slog.Logger) transport.Transport {
	if cfg.Sim {
		return transport.NewSim(transport.SimConfig{
			QuestionCount: cfg.QuestionCount,
			Delay:         cfg.SimDelay,
			Seed:          cfg.Seed,
			Logger:        logger,
		})
	}
	return transport.NewWS(transport.WSConfig{
		URL:            cfg.ServerURL,
		ConnectTimeout: cfg.DialTimeout,
		Logger:         logger,
	})
}

func serveMetrics(addr string, metrics *session.Metrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warn("metrics endpoint stopped", "addr", addr, "error", err)
		}
	}()
}

func render(out io.Writer, snap session.Snapshot) {
	switch snap.State {
	case session.StateConnecting:
		fmt.Fprintln(out, "connecting...")
	case session.StateAwaitingQuestions:
		fmt.Fprintln(out, "connected, waiting for questions...")
	case session.StatePresentingQuestion:
		renderQuestion(out, snap)
	case session.StateAwaitingAnalysis:
		fmt.Fprintln(out, "answer submitted, analyzing...")
	case session.StateCompleted:
		renderResults(out, snap)
	case session.StateErrored:
		fmt.Fprintf(out, "session failed: %v\n", snap.Err)
	}
	if snap.Notice != "" {
		fmt.Fprintf(out, "! %s\n", snap.Notice)
	}
}

func renderQuestion(out io.Writer, snap session.Snapshot) {
	if snap.Question == nil {
		return
	}
	fmt.Fprintf(out, "\n[%d/%d] (%s) %s\n", snap.QuestionIndex+1, snap.QuestionCount, snap.Question.Category, snap.Question.Text)
	switch {
	case snap.AudioPlaying:
		fmt.Fprintln(out, "  playing prompt audio (type 'skip' to skip)")
	case snap.Recording:
		fmt.Fprintln(out, "  recording... (type 'stop' to submit)")
	case snap.RecordingEnabled:
		fmt.Fprintln(out, "  ready (type 'rec' to answer)")
	}
}

func renderResults(out io.Writer, snap session.Snapshot) {
	res := snap.Results
	if res == nil {
		return
	}
	fmt.Fprintf(out, "\ninterview complete — overall score %.1f\n", res.OverallScore)
	for i, q := range res.PerQuestion {
		fmt.Fprintf(out, "  %d. %s  score=%.1f\n     %s\n", i+1, q.QuestionID, q.Score, q.Feedback)
	}
	if len(res.Strengths) > 0 {
		fmt.Fprintf(out, "strengths: %s\n", strings.Join(res.Strengths, ", "))
	}
	if len(res.Improvements) > 0 {
		fmt.Fprintf(out, "improve: %s\n", strings.Join(res.Improvements, ", "))
	}
	if res.FollowUp != "" {
		fmt.Fprintf(out, "follow up: %s\n", res.FollowUp)
	}
}

func writeResults(path string, results *protocol.InterviewComplete) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}

func readCommands(in io.Reader, orc *session.Orchestrator, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		switch strings.TrimSpace(strings.ToLower(scanner.Text())) {
		case "":
		case "skip", "s":
			orc.SkipAudio()
		case "rec", "r":
			orc.StartRecording()
		case "stop", ".":
			orc.StopRecording()
		case "quit", "q", "exit":
			_ = orc.Close()
			return
		default:
			fmt.Fprintln(out, "commands: skip, rec, stop, quit")
		}
	}
}

func run(ctx context.Context, cfg cliConfig, in io.Reader, out io.Writer, errOut io.Writer) error {
	logger := newLogger(cfg, errOut)

	candidate, err := profile.LoadCandidate(cfg.CandidatePath)
	if err != nil {
		return fmt.Errorf("load candidate profile: %w", err)
	}
	role, err := profile.LoadRole(cfg.RolePath)
	if err != nil {
		return fmt.Errorf("load role profile: %w", err)
	}

	metrics := session.NewMetrics("interview")
	if cfg.MetricsAddr != "" {
		serveMetrics(cfg.MetricsAddr, metrics, logger)
	}

	orc, err := session.New(session.Config{
		QuestionCount: cfg.QuestionCount,
		Candidate:     candidate,
		Role:          role,
	}, session.Deps{
		Transport: newTransport(cfg, logger),
		Recorder:  media.NewCapture(media.CaptureConfig{Logger: logger}),
		Player:    media.NewPlayer(media.PlayerConfig{Logger: logger}),
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}
	defer orc.Close()

	if err := orc.Start(ctx); err != nil {
		return err
	}

	fmt.Fprintf(out, "session %s — %s for %s at %s\n", orc.SessionID(), candidate.Name, role.Title, role.Company)
	go readCommands(in, orc, out)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-orc.Updates():
			if !ok {
				return nil
			}
			render(out, snap)
			if snap.State == session.StateCompleted {
				if cfg.ResultsPath != "" {
					if err := writeResults(cfg.ResultsPath, snap.Results); err != nil {
						return err
					}
					fmt.Fprintf(out, "results written to %s\n", cfg.ResultsPath)
				}
				return nil
			}
			if snap.State == session.StateErrored {
				return snap.Err
			}
		}
	}
}

func main() {
	_ = godotenv.Load()

	cfg, err := parseCLIConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "interview-cli: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "interview-cli: %v\n", err)
		os.Exit(1)
	}
}

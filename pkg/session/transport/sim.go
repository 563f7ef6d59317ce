package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hackabby/interview-live/pkg/session/protocol"
)

const simEventBuffer = 256

// SimConfig configures the simulated interview peer.
type SimConfig struct {
	// QuestionCount is the batch size the double generates. Default 8.
	QuestionCount int
	// Delay is the artificial latency applied before each peer response.
	// Zero keeps the double fully deterministic and fast for tests.
	Delay time.Duration
	// Seed drives question selection, scores, and metrics.
	Seed   int64
	Logger *slog.Logger
}

// Sim is the deterministic transport double. It reproduces the interview
// protocol's vocabulary and causal ordering without a network peer: the
// question batch precedes question audio, question audio precedes any
// analysis, analysis follows only a submission for that identifier, and the
// final results follow only complete_interview.
type Sim struct {
	cfg    SimConfig
	logger *slog.Logger
	rng    *rand.Rand

	events chan Event
	work   chan func()
	stop   chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool

	mu        sync.Mutex
	started   bool
	completed bool
	questions []protocol.Question
	submitted map[string]time.Time
	analyzed  map[string]protocol.AnswerAnalyzed
}

// NewSim creates a simulated transport.
func NewSim(cfg SimConfig) *Sim {
	if cfg.QuestionCount <= 0 {
		cfg.QuestionCount = 8
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Sim{
		cfg:       cfg,
		logger:    logger,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		events:    make(chan Event, simEventBuffer),
		work:      make(chan func(), simEventBuffer),
		stop:      make(chan struct{}),
		submitted: make(map[string]time.Time),
		analyzed:  make(map[string]protocol.AnswerAnalyzed),
	}
	go s.worker()
	return s
}

// Connect is a no-op beyond liveness checking; the double has no channel to
// establish.
func (s *Sim) Connect(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// Events yields the double's responses in causal order.
func (s *Sim) Events() <-chan Event {
	return s.events
}

// Close releases the double. Safe to call multiple times.
func (s *Sim) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.stop)
	})
	return nil
}

// Disconnect injects an abnormal channel loss, as a live peer dropping
// mid-session would. Intended for failure-path tests.
func (s *Sim) Disconnect(err error) {
	s.schedule(func() {
		s.emit(DisconnectedEvent{Err: err})
	})
}

// Send accepts one client frame. The double is strict: client frames that
// violate protocol causality return an error so conformance tests catch the
// sender's bug immediately.
func (s *Sim) Send(msg protocol.ClientMessage) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if _, err := protocol.EncodeClientMessage(msg); err != nil {
		return err
	}

	switch m := msg.(type) {
	case protocol.StartInterview, *protocol.StartInterview:
		return s.handleStart()
	case protocol.SubmitAnswer:
		return s.handleSubmit(m.QuestionID)
	case *protocol.SubmitAnswer:
		return s.handleSubmit(m.QuestionID)
	case protocol.CompleteInterview, *protocol.CompleteInterview:
		return s.handleComplete()
	default:
		return fmt.Errorf("sim peer: unsupported client message %T", msg)
	}
}

func (s *Sim) handleStart() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("sim peer: interview already started")
	}
	s.started = true
	s.questions = generateQuestions(s.rng, s.cfg.QuestionCount)
	questions := append([]protocol.Question(nil), s.questions...)
	s.mu.Unlock()

	s.schedule(func() {
		s.emit(MessageEvent{Msg: protocol.QuestionsGenerated{Questions: questions}})
		for _, q := range questions {
			audio := protocol.QuestionAudio{QuestionID: q.ID}
			audio.AudioB64 = promptAudioB64(q.ID)
			s.sleep()
			s.emit(MessageEvent{Msg: audio})
		}
	})
	return nil
}

func (s *Sim) handleSubmit(questionID string) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("sim peer: submit_answer before start_interview")
	}
	var known bool
	for _, q := range s.questions {
		if q.ID == questionID {
			known = true
			break
		}
	}
	if !known {
		s.mu.Unlock()
		return fmt.Errorf("sim peer: submit_answer for unknown question %q", questionID)
	}
	if _, dup := s.submitted[questionID]; dup {
		s.mu.Unlock()
		return fmt.Errorf("sim peer: duplicate submit_answer for %q", questionID)
	}
	s.submitted[questionID] = time.Now()

	score := 55 + s.rng.Float64()*45
	analysis := protocol.AnswerAnalyzed{
		QuestionID: questionID,
		Score:      float64(int(score*10)) / 10,
		Rubric: protocol.Rubric{
			Relevant:   score >= 60,
			Structured: score >= 70,
			Specific:   score >= 80,
			Confident:  score >= 65,
		},
		Feedback: fmt.Sprintf("Scored answer for %s.", questionID),
		Metrics: protocol.AnswerMetrics{
			FillerWords: s.rng.Intn(9),
			ElapsedMS:   int64(20+s.rng.Intn(70)) * 1000,
		},
	}
	s.analyzed[questionID] = analysis
	s.mu.Unlock()

	s.schedule(func() {
		s.emit(MessageEvent{Msg: analysis})
	})
	return nil
}

func (s *Sim) handleComplete() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("sim peer: complete_interview before start_interview")
	}
	if s.completed {
		s.mu.Unlock()
		return fmt.Errorf("sim peer: interview already completed")
	}
	s.completed = true

	var total float64
	results := make([]protocol.QuestionResult, 0, len(s.questions))
	for _, q := range s.questions {
		analysis, ok := s.analyzed[q.ID]
		if !ok {
			continue
		}
		total += analysis.Score
		results = append(results, protocol.QuestionResult{
			QuestionID: q.ID,
			Score:      analysis.Score,
			Feedback:   analysis.Feedback,
		})
	}
	overall := 0.0
	if len(results) > 0 {
		overall = float64(int(total/float64(len(results))*10)) / 10
	}
	final := protocol.InterviewComplete{
		OverallScore: overall,
		PerQuestion:  results,
		Strengths:    []string{"clear structure", "concrete examples"},
		Improvements: []string{"tighten openings", "quantify outcomes"},
		FollowUp:     "Practice the leadership questions with a timer.",
	}
	s.mu.Unlock()

	s.schedule(func() {
		s.emit(MessageEvent{Msg: final})
	})
	return nil
}

// worker serializes all peer responses so arrival order always matches
// causal order, independent of configured delays.
func (s *Sim) worker() {
	for {
		select {
		case <-s.stop:
			close(s.events)
			return
		case fn := <-s.work:
			s.sleep()
			fn()
		}
	}
}

func (s *Sim) schedule(fn func()) {
	select {
	case s.work <- fn:
	case <-s.stop:
	}
}

func (s *Sim) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.stop:
	}
}

func (s *Sim) sleep() {
	if s.cfg.Delay <= 0 {
		return
	}
	select {
	case <-time.After(s.cfg.Delay):
	case <-s.stop:
	}
}

var questionBank = []struct {
	text     string
	category protocol.Category
}{
	{"Tell me about a project you are most proud of and your role in it.", protocol.CategoryBehavioral},
	{"Walk me through how you would debug a latency regression in production.", protocol.CategoryTechnical},
	{"Describe a time you had to win over a skeptical stakeholder.", protocol.CategoryLeadership},
	{"Tell me about a time you missed a deadline. What happened?", protocol.CategoryBehavioral},
	{"How would you design a rate limiter for a public API?", protocol.CategoryTechnical},
	{"How do you grow engineers who report to you?", protocol.CategoryLeadership},
	{"Describe a disagreement with a teammate and how it was resolved.", protocol.CategoryBehavioral},
	{"Explain a tradeoff you made between consistency and availability.", protocol.CategoryTechnical},
	{"Tell me about a time you changed your mind under new evidence.", protocol.CategoryBehavioral},
	{"How do you decide what not to build?", protocol.CategoryLeadership},
}

func generateQuestions(rng *rand.Rand, count int) []protocol.Question {
	offset := rng.Intn(len(questionBank))
	questions := make([]protocol.Question, 0, count)
	for i := 0; i < count; i++ {
		entry := questionBank[(offset+i)%len(questionBank)]
		questions = append(questions, protocol.Question{
			ID:       fmt.Sprintf("q_%d", i+1),
			Text:     entry.text,
			Category: entry.category,
		})
	}
	return questions
}

// promptAudioB64 synthesizes a small deterministic PCM artifact for one
// question. The content only needs to be stable and non-empty; playback in
// tests never reaches a real device.
func promptAudioB64(questionID string) string {
	pcm := make([]byte, 64)
	for i := range pcm {
		pcm[i] = byte(i) ^ questionID[len(questionID)-1]
	}
	return base64.StdEncoding.EncodeToString(pcm)
}

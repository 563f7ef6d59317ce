// Package session drives one timed interview attempt: it reconciles the
// asynchronous transport, local microphone capture, and local prompt playback
// into a single consistent state machine. All transitions run on one loop
// goroutine fed by a command queue, so no transition can interleave another.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hackabby/interview-live/pkg/media"
	"github.com/hackabby/interview-live/pkg/profile"
	"github.com/hackabby/interview-live/pkg/session/protocol"
	"github.com/hackabby/interview-live/pkg/session/transport"
)

const (
	defaultQuestionCount = 8
	commandQueueSize     = 64
	updatesBuffer        = 256
)

// Recorder owns the microphone and produces one artifact per stop.
// media.Capture satisfies it.
type Recorder interface {
	Start() error
	Stop() ([]byte, error)
	Close() error
}

// Player plays one prompt artifact and signals completion exactly once.
// media.Player satisfies it.
type Player interface {
	Play(artifact []byte) (<-chan struct{}, error)
	Skip()
	Close() error
}

// Config configures one interview attempt.
type Config struct {
	// QuestionCount is the batch size N the peer must deliver. Default 8.
	QuestionCount int
	Candidate     profile.CandidateProfile
	Role          profile.RoleProfile
}

// Deps are the orchestrator's injected collaborators.
type Deps struct {
	Transport transport.Transport
	Recorder  Recorder
	Player    Player
	Logger    *slog.Logger
	Metrics   *Metrics
	Now       func() time.Time
}

// Answer is one captured, submitted response.
type Answer struct {
	QuestionID  string
	Artifact    []byte
	SubmittedAt time.Time
}

// Snapshot is a read-only view of session state for UI rendering.
type Snapshot struct {
	SessionID        string
	State            State
	QuestionIndex    int
	QuestionCount    int
	Question         *protocol.Question
	AudioPlaying     bool
	RecordingEnabled bool
	Recording        bool
	Analyses         map[string]protocol.AnswerAnalyzed
	Results          *protocol.InterviewComplete
	Notice           string
	Err              error
}

type command interface {
	commandName() string
}

type transportCmd struct{ ev transport.Event }
type playbackDoneCmd struct{ questionID string }
type skipAudioCmd struct{}
type startRecordingCmd struct{}
type stopRecordingCmd struct{}
type streamEndedCmd struct{}

func (transportCmd) commandName() string      { return "transport_event" }
func (playbackDoneCmd) commandName() string   { return "playback_done" }
func (skipAudioCmd) commandName() string      { return "skip_audio" }
func (startRecordingCmd) commandName() string { return "start_recording" }
func (stopRecordingCmd) commandName() string  { return "stop_recording" }
func (streamEndedCmd) commandName() string    { return "stream_ended" }

// Orchestrator is the sole owner and mutator of session state.
type Orchestrator struct {
	cfg     Config
	tr      transport.Transport
	rec     Recorder
	player  Player
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	sessionID string
	cmds      chan command
	updates   chan Snapshot
	stop      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	started   bool

	// Guarded by mu for Snapshot readers; mutated only on the loop
	// goroutine (and in Start, before the loop exists).
	mu               sync.Mutex
	state            State
	questions        []protocol.Question
	index            int
	audioPlaying     bool
	recordingEnabled bool
	recording        bool
	promptAudio      map[string][]byte
	played           map[string]struct{}
	answers          map[string]Answer
	submitted        map[string]struct{}
	pendingID        string
	analyses         map[string]protocol.AnswerAnalyzed
	results          *protocol.InterviewComplete
	notice           string
	err              error
}

// New creates an orchestrator in StateIdle.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if deps.Recorder == nil {
		return nil, errors.New("recorder is required")
	}
	if deps.Player == nil {
		return nil, errors.New("player is required")
	}
	if cfg.QuestionCount <= 0 {
		cfg.QuestionCount = defaultQuestionCount
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		cfg:         cfg,
		tr:          deps.Transport,
		rec:         deps.Recorder,
		player:      deps.Player,
		logger:      logger,
		metrics:     deps.Metrics,
		now:         now,
		sessionID:   uuid.NewString(),
		cmds:        make(chan command, commandQueueSize),
		updates:     make(chan Snapshot, updatesBuffer),
		stop:        make(chan struct{}),
		loopDone:    make(chan struct{}),
		state:       StateIdle,
		promptAudio: make(map[string][]byte),
		played:      make(map[string]struct{}),
		answers:     make(map[string]Answer),
		submitted:   make(map[string]struct{}),
		analyses:    make(map[string]protocol.AnswerAnalyzed),
	}, nil
}

// SessionID returns the attempt identifier.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// Snapshot returns the current session view.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Updates yields a snapshot after every state change. The channel is closed
// by Close.
func (o *Orchestrator) Updates() <-chan Snapshot {
	return o.updates
}

// Start establishes the channel, sends start_interview, and begins the run
// loop. It may be called once, from StateIdle.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateIdle {
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("start from %s: session already started", state)
	}
	o.started = true
	o.mu.Unlock()

	o.setState(StateConnecting)
	if err := o.tr.Connect(ctx); err != nil {
		err = &TransportError{Err: err}
		o.fatal(err)
		close(o.loopDone)
		return err
	}

	start := protocol.StartInterview{
		CandidateProfile: o.cfg.Candidate,
		RoleProfile:      o.cfg.Role,
	}
	if err := o.tr.Send(start); err != nil {
		err = &TransportError{Err: err}
		o.fatal(err)
		close(o.loopDone)
		return err
	}
	o.metrics.sessionStarted()
	o.setState(StateAwaitingQuestions)

	go o.pumpTransport()
	go o.runLoop()
	return nil
}

// SkipAudio requests cancellation of the current prompt playback.
func (o *Orchestrator) SkipAudio() { o.enqueue(skipAudioCmd{}) }

// StartRecording requests the microphone to start capturing an answer.
func (o *Orchestrator) StartRecording() { o.enqueue(startRecordingCmd{}) }

// StopRecording finalizes the take and submits it as the current answer.
func (o *Orchestrator) StopRecording() { o.enqueue(stopRecordingCmd{}) }

// Close tears the session down: stops any active recording and playback,
// releases the transport, and ends the run loop. Safe to call multiple times
// and at any point in the session lifecycle.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		o.closed.Store(true)
		close(o.stop)
		o.mu.Lock()
		started := o.started
		o.mu.Unlock()
		if started {
			<-o.loopDone
		}
		_, _ = o.rec.Stop()
		_ = o.rec.Close()
		_ = o.player.Close()
		_ = o.tr.Close()
		close(o.updates)
	})
	return nil
}

func (o *Orchestrator) enqueue(cmd command) {
	if o.closed.Load() {
		return
	}
	select {
	case o.cmds <- cmd:
	case <-o.stop:
	}
}

func (o *Orchestrator) pumpTransport() {
	for ev := range o.tr.Events() {
		o.enqueue(transportCmd{ev: ev})
	}
	o.enqueue(streamEndedCmd{})
}

func (o *Orchestrator) runLoop() {
	defer close(o.loopDone)
	for {
		select {
		case <-o.stop:
			return
		case cmd := <-o.cmds:
			o.handle(cmd)
		}
	}
}

// handle is the single entry point for every transition. It runs only on the
// loop goroutine.
func (o *Orchestrator) handle(cmd command) {
	if o.state.Terminal() && !isTransportDrain(cmd) {
		o.logger.Debug("ignoring command in terminal state", "command", cmd.commandName(), "state", o.state.String())
		return
	}

	switch c := cmd.(type) {
	case transportCmd:
		o.handleTransport(c.ev)
	case playbackDoneCmd:
		o.handlePlaybackDone(c.questionID)
	case skipAudioCmd:
		o.handleSkipAudio()
	case startRecordingCmd:
		o.handleStartRecording()
	case stopRecordingCmd:
		o.handleStopRecording()
	case streamEndedCmd:
		if !o.state.Terminal() {
			o.fatal(&TransportError{Err: errors.New("connection closed mid-session")})
		}
	}
}

func isTransportDrain(cmd command) bool {
	switch cmd.(type) {
	case transportCmd, streamEndedCmd:
		return true
	}
	return false
}

func (o *Orchestrator) handleTransport(ev transport.Event) {
	if o.state.Terminal() {
		return
	}
	switch e := ev.(type) {
	case transport.DisconnectedEvent:
		o.fatal(&TransportError{Err: e.Err})
	case transport.DecodeFailedEvent:
		o.fatal(&ProtocolViolationError{Reason: "malformed payload: " + e.Err.Error()})
	case transport.MessageEvent:
		o.handleMessage(e.Msg)
	}
}

func (o *Orchestrator) handleMessage(msg protocol.ServerMessage) {
	switch m := msg.(type) {
	case protocol.QuestionsGenerated:
		o.handleQuestions(m)
	case protocol.QuestionAudio:
		o.handleQuestionAudio(m)
	case protocol.AnswerAnalyzed:
		o.handleAnswerAnalyzed(m)
	case protocol.InterviewComplete:
		o.handleInterviewComplete(m)
	case protocol.PeerError:
		o.fatal(&TransportError{Err: fmt.Errorf("peer error (%s): %s", m.Kind, m.Message)})
	case protocol.UnknownMessage:
		o.logger.Debug("ignoring unknown event", "type", m.Type)
	}
}

func (o *Orchestrator) handleQuestions(batch protocol.QuestionsGenerated) {
	if o.state != StateAwaitingQuestions {
		o.logger.Warn("duplicate question batch ignored", "state", o.state.String())
		o.metrics.protocolViolation("duplicate_batch")
		return
	}
	if len(batch.Questions) != o.cfg.QuestionCount {
		o.metrics.protocolViolation("batch_size")
		o.fatal(&ProtocolViolationError{
			Reason: fmt.Sprintf("question batch size %d, want %d", len(batch.Questions), o.cfg.QuestionCount),
		})
		return
	}
	o.mu.Lock()
	o.questions = batch.Questions
	o.index = 0
	o.mu.Unlock()
	o.presentQuestion()
}

func (o *Orchestrator) presentQuestion() {
	o.mu.Lock()
	q := o.questions[o.index]
	artifact, haveAudio := o.promptAudio[q.ID]
	_, alreadyPlayed := o.played[q.ID]
	o.mu.Unlock()

	o.setStateNoEmit(StatePresentingQuestion)
	if haveAudio && !alreadyPlayed {
		o.startPlayback(q.ID, artifact)
		return
	}
	o.setFlags(false, true)
}

func (o *Orchestrator) startPlayback(questionID string, artifact []byte) {
	done, err := o.player.Play(artifact)
	if err != nil {
		o.logger.Warn("prompt playback unavailable", "question", questionID, "error", err)
		o.mu.Lock()
		o.played[questionID] = struct{}{}
		o.mu.Unlock()
		o.setFlags(false, true)
		return
	}
	o.mu.Lock()
	o.played[questionID] = struct{}{}
	o.mu.Unlock()
	o.setFlags(true, false)
	go func() {
		select {
		case <-done:
			o.enqueue(playbackDoneCmd{questionID: questionID})
		case <-o.stop:
		}
	}()
}

func (o *Orchestrator) handleQuestionAudio(msg protocol.QuestionAudio) {
	artifact, err := msg.Audio()
	if err != nil {
		o.fatal(&ProtocolViolationError{Reason: "malformed question audio: " + err.Error()})
		return
	}
	o.mu.Lock()
	o.promptAudio[msg.QuestionID] = artifact
	current := o.currentQuestionLocked()
	_, alreadyPlayed := o.played[msg.QuestionID]
	recording := o.recording
	playing := o.audioPlaying
	o.mu.Unlock()

	// Late-arriving audio for the on-screen question starts playback unless
	// the candidate is already mid-answer.
	if o.state == StatePresentingQuestion &&
		current != nil && current.ID == msg.QuestionID &&
		!alreadyPlayed && !recording && !playing {
		o.startPlayback(msg.QuestionID, artifact)
	}
}

func (o *Orchestrator) handlePlaybackDone(questionID string) {
	o.mu.Lock()
	current := o.currentQuestionLocked()
	playing := o.audioPlaying
	o.mu.Unlock()
	if o.state != StatePresentingQuestion || !playing || current == nil || current.ID != questionID {
		return
	}
	o.setFlags(false, true)
}

func (o *Orchestrator) handleSkipAudio() {
	o.mu.Lock()
	playing := o.audioPlaying
	o.mu.Unlock()
	if o.state != StatePresentingQuestion || !playing {
		return
	}
	o.player.Skip()
	o.setFlags(false, true)
}

func (o *Orchestrator) handleStartRecording() {
	o.mu.Lock()
	enabled := o.recordingEnabled
	recording := o.recording
	o.mu.Unlock()
	if o.state != StatePresentingQuestion || !enabled || recording {
		return
	}
	if err := o.rec.Start(); err != nil {
		// Permission and device faults are recoverable in place.
		o.logger.Warn("recording did not start", "error", err)
		o.setNotice(err.Error())
		return
	}
	o.mu.Lock()
	o.recording = true
	o.notice = ""
	o.mu.Unlock()
	o.emit()
}

func (o *Orchestrator) handleStopRecording() {
	o.mu.Lock()
	recording := o.recording
	o.mu.Unlock()
	if !recording {
		return
	}

	artifact, err := o.rec.Stop()
	o.mu.Lock()
	o.recording = false
	o.mu.Unlock()
	if err != nil {
		var mediaErr *media.MediaError
		if errors.As(err, &mediaErr) {
			// The take is lost but the question is not; retry in place.
			o.logger.Warn("recording failed, retry available", "error", err)
			o.setNotice(err.Error())
			return
		}
		o.setNotice(err.Error())
		return
	}
	if artifact == nil {
		o.emit()
		return
	}

	o.mu.Lock()
	q := o.currentQuestionLocked()
	if q == nil {
		o.mu.Unlock()
		return
	}
	if _, dup := o.submitted[q.ID]; dup {
		o.mu.Unlock()
		o.logger.Warn("refusing second submission", "question", q.ID)
		o.metrics.protocolViolation("duplicate_submission")
		return
	}
	questionID := q.ID
	submittedAt := o.now()
	o.answers[questionID] = Answer{
		QuestionID:  questionID,
		Artifact:    artifact,
		SubmittedAt: submittedAt,
	}
	o.recordingEnabled = false
	o.mu.Unlock()

	o.setState(StateSubmittingAnswer)
	answer := protocol.SubmitAnswer{QuestionID: questionID}
	answer.SetAudio(artifact)
	if err := o.tr.Send(answer); err != nil {
		o.fatal(&TransportError{Err: err})
		return
	}
	o.mu.Lock()
	o.submitted[questionID] = struct{}{}
	o.pendingID = questionID
	o.mu.Unlock()
	o.metrics.answerSubmitted()
	o.setState(StateAwaitingAnalysis)
}

func (o *Orchestrator) handleAnswerAnalyzed(msg protocol.AnswerAnalyzed) {
	o.mu.Lock()
	pending := o.pendingID
	o.mu.Unlock()
	if o.state != StateAwaitingAnalysis || msg.QuestionID != pending {
		// Out-of-order or unknown identifier: defensive ignore.
		o.logger.Warn("ignoring analysis with unmatched identifier",
			"got", msg.QuestionID, "outstanding", pending, "state", o.state.String())
		o.metrics.protocolViolation("unmatched_analysis")
		return
	}

	o.mu.Lock()
	o.analyses[msg.QuestionID] = msg
	o.pendingID = ""
	o.mu.Unlock()
	o.metrics.analysisReceived()
	o.setState(StateAdvancing)
	o.advance()
}

func (o *Orchestrator) advance() {
	o.mu.Lock()
	hasNext := o.index+1 < len(o.questions)
	if hasNext {
		o.index++
	}
	o.mu.Unlock()

	if hasNext {
		o.presentQuestion()
		o.emit()
		return
	}
	if err := o.tr.Send(protocol.CompleteInterview{}); err != nil {
		o.fatal(&TransportError{Err: err})
	}
	// Stay in StateAdvancing until interview_complete arrives.
}

func (o *Orchestrator) handleInterviewComplete(msg protocol.InterviewComplete) {
	o.mu.Lock()
	expecting := o.state == StateAdvancing && o.pendingID == "" && o.index+1 >= len(o.questions) && len(o.questions) > 0
	o.mu.Unlock()
	if !expecting {
		o.logger.Warn("ignoring premature interview_complete", "state", o.state.String())
		o.metrics.protocolViolation("premature_complete")
		return
	}
	o.mu.Lock()
	o.results = &msg
	o.mu.Unlock()
	o.metrics.sessionCompleted()
	o.setState(StateCompleted)
	// Transport is drained; release everything but keep state readable.
	_, _ = o.rec.Stop()
	_ = o.rec.Close()
	_ = o.player.Close()
	_ = o.tr.Close()
}

// fatal moves to StateErrored, records the cause, and tears the channel and
// media endpoints down. No automatic retry ever follows.
func (o *Orchestrator) fatal(err error) {
	o.mu.Lock()
	if o.state.Terminal() {
		o.mu.Unlock()
		return
	}
	o.err = err
	o.recording = false
	o.audioPlaying = false
	o.recordingEnabled = false
	o.mu.Unlock()

	o.logger.Error("session failed", "session", o.sessionID, "error", err)
	o.metrics.sessionErrored()
	_, _ = o.rec.Stop()
	o.player.Skip()
	_ = o.tr.Close()
	o.setState(StateErrored)
}

func (o *Orchestrator) currentQuestionLocked() *protocol.Question {
	if o.index < 0 || o.index >= len(o.questions) {
		return nil
	}
	q := o.questions[o.index]
	return &q
}

func (o *Orchestrator) setState(next State) {
	o.setStateNoEmit(next)
	o.emit()
}

func (o *Orchestrator) setStateNoEmit(next State) {
	o.mu.Lock()
	prev := o.state
	o.state = next
	o.mu.Unlock()
	if prev != next {
		o.logger.Debug("state transition", "from", prev.String(), "to", next.String())
		o.metrics.stateTransition(next)
	}
}

// setFlags applies the PresentingQuestion qualifiers. recordingEnabled and
// audioPlaying are always written together to keep the mutual-exclusion
// invariant structural.
func (o *Orchestrator) setFlags(audioPlaying, recordingEnabled bool) {
	o.mu.Lock()
	o.audioPlaying = audioPlaying
	o.recordingEnabled = recordingEnabled
	o.mu.Unlock()
	o.emit()
}

func (o *Orchestrator) setNotice(notice string) {
	o.mu.Lock()
	o.notice = notice
	o.mu.Unlock()
	o.emit()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	analyses := make(map[string]protocol.AnswerAnalyzed, len(o.analyses))
	for k, v := range o.analyses {
		analyses[k] = v
	}
	snap := Snapshot{
		SessionID:        o.sessionID,
		State:            o.state,
		QuestionIndex:    o.index,
		QuestionCount:    o.cfg.QuestionCount,
		Question:         o.currentQuestionLocked(),
		AudioPlaying:     o.audioPlaying,
		RecordingEnabled: o.recordingEnabled,
		Recording:        o.recording,
		Analyses:         analyses,
		Results:          o.results,
		Notice:           o.notice,
		Err:              o.err,
	}
	return snap
}

func (o *Orchestrator) emit() {
	if o.closed.Load() {
		return
	}
	o.mu.Lock()
	snap := o.snapshotLocked()
	o.mu.Unlock()
	select {
	case o.updates <- snap:
	default:
		o.logger.Debug("dropping snapshot update, subscriber is behind")
	}
}

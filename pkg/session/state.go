package session

// State is the orchestrator's position in the interview protocol.
type State int

const (
	// StateIdle is the initial state before Start.
	StateIdle State = iota
	// StateConnecting is while the transport channel is being established.
	StateConnecting
	// StateAwaitingQuestions is after start_interview, before the batch.
	StateAwaitingQuestions
	// StatePresentingQuestion is while one question is on screen; the
	// AudioPlaying/RecordingEnabled flags qualify it.
	StatePresentingQuestion
	// StateSubmittingAnswer is while the finalized answer is dispatched.
	StateSubmittingAnswer
	// StateAwaitingAnalysis is between submission and its scored feedback.
	StateAwaitingAnalysis
	// StateAdvancing is between a received analysis and the next question,
	// or between complete_interview and the final results.
	StateAdvancing
	// StateCompleted is terminal with results present.
	StateCompleted
	// StateErrored is terminal; recovery is a fresh session.
	StateErrored
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitingQuestions:
		return "AWAITING_QUESTIONS"
	case StatePresentingQuestion:
		return "PRESENTING_QUESTION"
	case StateSubmittingAnswer:
		return "SUBMITTING_ANSWER"
	case StateAwaitingAnalysis:
		return "AWAITING_ANALYSIS"
	case StateAdvancing:
		return "ADVANCING"
	case StateCompleted:
		return "COMPLETED"
	case StateErrored:
		return "ERRORED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions can occur.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateErrored
}

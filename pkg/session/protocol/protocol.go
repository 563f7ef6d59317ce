// Package protocol defines the interview wire vocabulary as a closed tagged
// union. Every frame is a JSON object with a "type" tag; decoding validates at
// the boundary so orchestrator logic never sees a malformed payload.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hackabby/interview-live/pkg/profile"
)

// Category tags a question with its closed-set kind.
type Category string

const (
	CategoryBehavioral Category = "behavioral"
	CategoryTechnical  Category = "technical"
	CategoryLeadership Category = "leadership"
)

// Valid reports whether c is one of the closed set.
func (c Category) Valid() bool {
	switch c {
	case CategoryBehavioral, CategoryTechnical, CategoryLeadership:
		return true
	}
	return false
}

// DecodeError describes a frame rejected at the protocol boundary.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

// Question is one prompt in the generated batch. Immutable once received.
type Question struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Category Category `json:"category"`
}

// Rubric holds the boolean sub-scores returned per analyzed answer.
type Rubric struct {
	Relevant   bool `json:"relevant"`
	Structured bool `json:"structured"`
	Specific   bool `json:"specific"`
	Confident  bool `json:"confident"`
}

// AnswerMetrics carries derived measurements for one analyzed answer.
type AnswerMetrics struct {
	FillerWords int   `json:"fillerWords"`
	ElapsedMS   int64 `json:"elapsedMs"`
}

// QuestionResult is one entry of the final per-question breakdown.
type QuestionResult struct {
	QuestionID string  `json:"questionId"`
	Score      float64 `json:"score"`
	Feedback   string  `json:"feedback,omitempty"`
}

// ClientMessage is a frame sent from the client to the interview peer.
type ClientMessage interface {
	clientMessageType() string
}

// ServerMessage is a frame delivered from the interview peer to the client.
type ServerMessage interface {
	serverMessageType() string
}

// StartInterview opens a session with the candidate and target-role profiles.
type StartInterview struct {
	Type             string                   `json:"type"`
	CandidateProfile profile.CandidateProfile `json:"candidateProfile"`
	RoleProfile      profile.RoleProfile      `json:"roleProfile"`
}

func (StartInterview) clientMessageType() string { return "start_interview" }

// SubmitAnswer carries one finalized answer artifact for one question.
type SubmitAnswer struct {
	Type       string `json:"type"`
	QuestionID string `json:"questionId"`
	AudioB64   string `json:"audioArtifact"`
}

func (SubmitAnswer) clientMessageType() string { return "submit_answer" }

// SetAudio stores the raw artifact base64-encoded for the wire.
func (m *SubmitAnswer) SetAudio(raw []byte) {
	m.AudioB64 = base64.StdEncoding.EncodeToString(raw)
}

// CompleteInterview asks the peer to finalize and score the whole session.
type CompleteInterview struct {
	Type string `json:"type"`
}

func (CompleteInterview) clientMessageType() string { return "complete_interview" }

// QuestionsGenerated delivers the full ordered question batch, once per session.
type QuestionsGenerated struct {
	Type      string     `json:"type"`
	Questions []Question `json:"questions"`
}

func (QuestionsGenerated) serverMessageType() string { return "questions_generated" }

// QuestionAudio delivers the spoken prompt for one question. Arrives after the
// batch, in no guaranteed order relative to other question_audio frames.
type QuestionAudio struct {
	Type       string `json:"type"`
	QuestionID string `json:"questionId"`
	AudioB64   string `json:"audioArtifact"`
}

func (QuestionAudio) serverMessageType() string { return "question_audio" }

// Audio decodes the artifact payload.
func (m QuestionAudio) Audio() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(m.AudioB64)
	if err != nil {
		return nil, fmt.Errorf("decode question audio: %w", err)
	}
	return raw, nil
}

// AnswerAnalyzed delivers scored feedback for one submitted answer.
type AnswerAnalyzed struct {
	Type       string        `json:"type"`
	QuestionID string        `json:"questionId"`
	Score      float64       `json:"score"`
	Rubric     Rubric        `json:"rubric"`
	Feedback   string        `json:"feedback"`
	Metrics    AnswerMetrics `json:"metrics"`
}

func (AnswerAnalyzed) serverMessageType() string { return "answer_analyzed" }

// InterviewComplete delivers the terminal session results.
type InterviewComplete struct {
	Type         string           `json:"type"`
	OverallScore float64          `json:"overallScore"`
	PerQuestion  []QuestionResult `json:"perQuestion"`
	Strengths    []string         `json:"strengths"`
	Improvements []string         `json:"improvements"`
	FollowUp     string           `json:"followUp"`
}

func (InterviewComplete) serverMessageType() string { return "interview_complete" }

// PeerError is a fatal error reported by the interview peer.
type PeerError struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (PeerError) serverMessageType() string { return "error" }

// UnknownMessage wraps a frame whose type tag is outside the vocabulary.
// Receivers treat it as a no-op, never as a fatal error.
type UnknownMessage struct {
	Type string
	Raw  json.RawMessage
}

func (m UnknownMessage) serverMessageType() string { return m.Type }

// EncodeClientMessage marshals a client frame with its type tag applied.
func EncodeClientMessage(msg ClientMessage) ([]byte, error) {
	switch m := msg.(type) {
	case StartInterview:
		m.Type = m.clientMessageType()
		return json.Marshal(m)
	case *StartInterview:
		m.Type = m.clientMessageType()
		return json.Marshal(m)
	case SubmitAnswer:
		m.Type = m.clientMessageType()
		if strings.TrimSpace(m.QuestionID) == "" {
			return nil, badFrame("submit_answer.questionId is required", "questionId")
		}
		return json.Marshal(m)
	case *SubmitAnswer:
		m.Type = m.clientMessageType()
		if strings.TrimSpace(m.QuestionID) == "" {
			return nil, badFrame("submit_answer.questionId is required", "questionId")
		}
		return json.Marshal(m)
	case CompleteInterview:
		m.Type = m.clientMessageType()
		return json.Marshal(m)
	case *CompleteInterview:
		m.Type = m.clientMessageType()
		return json.Marshal(m)
	default:
		return nil, badFrame(fmt.Sprintf("unsupported client message %T", msg), "type")
	}
}

// EncodeServerMessage marshals a peer frame with its type tag applied. Used by
// peers serving the protocol, such as the practice server.
func EncodeServerMessage(msg ServerMessage) ([]byte, error) {
	switch m := msg.(type) {
	case QuestionsGenerated:
		m.Type = m.serverMessageType()
		return json.Marshal(m)
	case QuestionAudio:
		m.Type = m.serverMessageType()
		return json.Marshal(m)
	case AnswerAnalyzed:
		m.Type = m.serverMessageType()
		return json.Marshal(m)
	case InterviewComplete:
		m.Type = m.serverMessageType()
		return json.Marshal(m)
	case PeerError:
		m.Type = m.serverMessageType()
		return json.Marshal(m)
	default:
		return nil, badFrame(fmt.Sprintf("unsupported server message %T", msg), "type")
	}
}

// DecodeClientMessage parses one frame arriving at a peer from a client.
// Malformed frames and unrecognized type tags return a *DecodeError: a peer
// has no forward-compatibility obligation toward its own clients.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame("invalid json frame", "")
	}
	switch strings.TrimSpace(envelope.Type) {
	case "start_interview":
		var msg StartInterview
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid start_interview", "")
		}
		return msg, nil
	case "submit_answer":
		var msg SubmitAnswer
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid submit_answer", "")
		}
		if strings.TrimSpace(msg.QuestionID) == "" {
			return nil, badFrame("submit_answer.questionId is required", "questionId")
		}
		return msg, nil
	case "complete_interview":
		var msg CompleteInterview
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid complete_interview", "")
		}
		return msg, nil
	default:
		return nil, badFrame("unrecognized client message type", "type")
	}
}

// DecodeServerMessage parses and validates one inbound frame. Malformed frames
// return a *DecodeError; frames with an unrecognized type tag return
// UnknownMessage with no error.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badFrame("missing type", "type")
	}

	switch typ {
	case "questions_generated":
		var msg QuestionsGenerated
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid questions_generated", "")
		}
		if len(msg.Questions) == 0 {
			return nil, badFrame("questions_generated.questions must be non-empty", "questions")
		}
		seen := make(map[string]struct{}, len(msg.Questions))
		for i, q := range msg.Questions {
			if strings.TrimSpace(q.ID) == "" {
				return nil, badFrame("question id is required", fmt.Sprintf("questions[%d].id", i))
			}
			if strings.TrimSpace(q.Text) == "" {
				return nil, badFrame("question text is required", fmt.Sprintf("questions[%d].text", i))
			}
			if !q.Category.Valid() {
				return nil, badFrame("question category is outside the closed set", fmt.Sprintf("questions[%d].category", i))
			}
			if _, dup := seen[q.ID]; dup {
				return nil, badFrame("question ids must be unique", fmt.Sprintf("questions[%d].id", i))
			}
			seen[q.ID] = struct{}{}
		}
		return msg, nil
	case "question_audio":
		var msg QuestionAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid question_audio", "")
		}
		if strings.TrimSpace(msg.QuestionID) == "" {
			return nil, badFrame("question_audio.questionId is required", "questionId")
		}
		if strings.TrimSpace(msg.AudioB64) == "" {
			return nil, badFrame("question_audio.audioArtifact is required", "audioArtifact")
		}
		return msg, nil
	case "answer_analyzed":
		var msg AnswerAnalyzed
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid answer_analyzed", "")
		}
		if strings.TrimSpace(msg.QuestionID) == "" {
			return nil, badFrame("answer_analyzed.questionId is required", "questionId")
		}
		if msg.Score < 0 || msg.Score > 100 {
			return nil, badFrame("answer_analyzed.score must be within [0,100]", "score")
		}
		return msg, nil
	case "interview_complete":
		var msg InterviewComplete
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid interview_complete", "")
		}
		if msg.OverallScore < 0 || msg.OverallScore > 100 {
			return nil, badFrame("interview_complete.overallScore must be within [0,100]", "overallScore")
		}
		for i, r := range msg.PerQuestion {
			if strings.TrimSpace(r.QuestionID) == "" {
				return nil, badFrame("per-question result id is required", fmt.Sprintf("perQuestion[%d].questionId", i))
			}
		}
		return msg, nil
	case "error":
		var msg PeerError
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid error frame", "")
		}
		if strings.TrimSpace(msg.Message) == "" {
			return nil, badFrame("error.message is required", "message")
		}
		return msg, nil
	default:
		return UnknownMessage{Type: typ, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

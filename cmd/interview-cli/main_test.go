package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hackabby/interview-live/pkg/session"
	"github.com/hackabby/interview-live/pkg/session/protocol"
)

func noEnv(string) string { return "" }

func TestParseCLIConfig_SimNeedsNoURL(t *testing.T) {
	t.Parallel()

	cfg, err := parseCLIConfig([]string{"-sim", "-questions", "4", "-seed", "9"}, noEnv)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cfg.Sim {
		t.Fatal("sim not set")
	}
	if cfg.QuestionCount != 4 {
		t.Fatalf("questions=%d, want 4", cfg.QuestionCount)
	}
	if cfg.Seed != 9 {
		t.Fatalf("seed=%d, want 9", cfg.Seed)
	}
}

func TestParseCLIConfig_LiveRequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := parseCLIConfig(nil, noEnv); err == nil {
		t.Fatal("expected error without url")
	}
}

func TestParseCLIConfig_URLFromEnvironment(t *testing.T) {
	t.Parallel()

	getenv := func(key string) string {
		if key == "INTERVIEW_SERVER_URL" {
			return "wss://interviews.example.com/session"
		}
		return ""
	}
	cfg, err := parseCLIConfig(nil, getenv)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.ServerURL != "wss://interviews.example.com/session" {
		t.Fatalf("url=%q", cfg.ServerURL)
	}
}

func TestParseCLIConfig_RejectsHTTPScheme(t *testing.T) {
	t.Parallel()

	if _, err := parseCLIConfig([]string{"-url", "http://host/session"}, noEnv); err == nil {
		t.Fatal("expected scheme rejection")
	}
}

func TestParseCLIConfig_RejectsBadCounts(t *testing.T) {
	t.Parallel()

	if _, err := parseCLIConfig([]string{"-sim", "-questions", "0"}, noEnv); err == nil {
		t.Fatal("expected rejection of zero questions")
	}
	if _, err := parseCLIConfig([]string{"-sim", "-dial-timeout", "-1s"}, noEnv); err == nil {
		t.Fatal("expected rejection of negative dial timeout")
	}
}

func TestRenderQuestionShowsPromptAndControls(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	render(&out, session.Snapshot{
		State:         session.StatePresentingQuestion,
		QuestionIndex: 2,
		QuestionCount: 8,
		Question: &protocol.Question{
			ID:       "q_3",
			Text:     "Describe a production incident you led.",
			Category: protocol.CategoryBehavioral,
		},
		RecordingEnabled: true,
	})

	got := out.String()
	if !strings.Contains(got, "[3/8]") {
		t.Fatalf("missing progress marker in %q", got)
	}
	if !strings.Contains(got, "Describe a production incident") {
		t.Fatalf("missing question text in %q", got)
	}
	if !strings.Contains(got, "'rec'") {
		t.Fatalf("missing record hint in %q", got)
	}
}

func TestRenderResultsListsEveryQuestion(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	render(&out, session.Snapshot{
		State: session.StateCompleted,
		Results: &protocol.InterviewComplete{
			OverallScore: 82.5,
			PerQuestion: []protocol.QuestionResult{
				{QuestionID: "q_1", Score: 90, Feedback: "Strong structure."},
				{QuestionID: "q_2", Score: 75, Feedback: "Needs more detail."},
			},
			Strengths:    []string{"clarity"},
			Improvements: []string{"metrics"},
			FollowUp:     "capacity planning",
		},
	})

	got := out.String()
	for _, want := range []string{"82.5", "q_1", "q_2", "clarity", "metrics", "capacity planning"} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in %q", want, got)
		}
	}
}

func TestNewTransportSelectsSim(t *testing.T) {
	t.Parallel()

	tr := newTransport(cliConfig{Sim: true, QuestionCount: 2, SimDelay: time.Millisecond}, nil)
	t.Cleanup(func() { _ = tr.Close() })
	if err := tr.Send(protocol.StartInterview{}); err != nil {
		t.Fatalf("sim transport rejected start: %v", err)
	}
}

func TestWriteResults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "results.json")
	results := &protocol.InterviewComplete{
		OverallScore: 71,
		PerQuestion: []protocol.QuestionResult{
			{QuestionID: "q_1", Score: 71, Feedback: "Solid."},
		},
	}
	if err := writeResults(path, results); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var got protocol.InterviewComplete
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.OverallScore != 71 || len(got.PerQuestion) != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

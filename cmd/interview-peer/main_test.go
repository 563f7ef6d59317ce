package main

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hackabby/interview-live/pkg/profile"
	"github.com/hackabby/interview-live/pkg/session/protocol"
	"github.com/hackabby/interview-live/pkg/session/transport"
)

func TestParsePeerConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := parsePeerConfig(nil, func(string) string { return "" })
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Addr != defaultAddr {
		t.Fatalf("addr=%q, want %q", cfg.Addr, defaultAddr)
	}
	if cfg.QuestionCount != defaultQuestionCount {
		t.Fatalf("questions=%d, want %d", cfg.QuestionCount, defaultQuestionCount)
	}
}

func TestParsePeerConfig_AddrFromEnvironment(t *testing.T) {
	t.Parallel()

	getenv := func(key string) string {
		if key == "INTERVIEW_PEER_ADDR" {
			return "0.0.0.0:9000"
		}
		return ""
	}
	cfg, err := parsePeerConfig(nil, getenv)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Addr != "0.0.0.0:9000" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
}

func TestParsePeerConfig_RejectsZeroQuestions(t *testing.T) {
	t.Parallel()

	if _, err := parsePeerConfig([]string{"-questions", "0"}, func(string) string { return "" }); err == nil {
		t.Fatal("expected rejection")
	}
}

func nextServerMessage(t *testing.T, tr transport.Transport) protocol.ServerMessage {
	t.Helper()
	select {
	case ev, ok := <-tr.Events():
		if !ok {
			t.Fatal("transport events closed")
		}
		msg, isMsg := ev.(transport.MessageEvent)
		if !isMsg {
			t.Fatalf("unexpected event %T", ev)
		}
		return msg.Msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for peer frame")
		return nil
	}
}

func TestPeerServesFullSessionOverWebsocket(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	srv := httptest.NewServer(newPeerServer(peerConfig{QuestionCount: 2, Seed: 17}, logger).handler())
	defer srv.Close()

	ws := transport.NewWS(transport.WSConfig{
		URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/session",
	})
	defer ws.Close()
	if err := ws.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	start := protocol.StartInterview{
		CandidateProfile: profile.CandidateProfile{Name: "Iris Vale"},
		RoleProfile:      profile.RoleProfile{Title: "Backend Engineer"},
	}
	if err := ws.Send(start); err != nil {
		t.Fatalf("send start: %v", err)
	}

	batch, ok := nextServerMessage(t, ws).(protocol.QuestionsGenerated)
	if !ok {
		t.Fatal("first frame was not questions_generated")
	}
	if len(batch.Questions) != 2 {
		t.Fatalf("batch size %d, want 2", len(batch.Questions))
	}
	for range batch.Questions {
		if _, ok := nextServerMessage(t, ws).(protocol.QuestionAudio); !ok {
			t.Fatal("expected question_audio after the batch")
		}
	}

	for _, q := range batch.Questions {
		answer := protocol.SubmitAnswer{QuestionID: q.ID}
		answer.SetAudio([]byte("RIFF-take"))
		if err := ws.Send(answer); err != nil {
			t.Fatalf("send answer for %s: %v", q.ID, err)
		}
		analyzed, ok := nextServerMessage(t, ws).(protocol.AnswerAnalyzed)
		if !ok {
			t.Fatal("expected answer_analyzed")
		}
		if analyzed.QuestionID != q.ID {
			t.Fatalf("analysis for %s, want %s", analyzed.QuestionID, q.ID)
		}
	}

	if err := ws.Send(protocol.CompleteInterview{}); err != nil {
		t.Fatalf("send complete: %v", err)
	}
	results, ok := nextServerMessage(t, ws).(protocol.InterviewComplete)
	if !ok {
		t.Fatal("expected interview_complete")
	}
	if len(results.PerQuestion) != 2 {
		t.Fatalf("per-question results = %d, want 2", len(results.PerQuestion))
	}
}

func TestPeerRejectsProtocolViolationsWithErrorFrame(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	srv := httptest.NewServer(newPeerServer(peerConfig{QuestionCount: 2, Seed: 3}, logger).handler())
	defer srv.Close()

	ws := transport.NewWS(transport.WSConfig{
		URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/session",
	})
	defer ws.Close()
	if err := ws.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Submitting before start_interview violates session causality.
	answer := protocol.SubmitAnswer{QuestionID: "q_1"}
	answer.SetAudio([]byte("RIFF-take"))
	if err := ws.Send(answer); err != nil {
		t.Fatalf("send: %v", err)
	}

	perr, ok := nextServerMessage(t, ws).(protocol.PeerError)
	if !ok {
		t.Fatal("expected error frame")
	}
	if perr.Kind != "bad_request" {
		t.Fatalf("kind=%q, want bad_request", perr.Kind)
	}
}

package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hackabby/interview-live/pkg/session/protocol"
)

// scriptedPeer upgrades one connection and answers client frames with the
// given scripted responses per inbound type tag.
type scriptedPeer struct {
	upgrader websocket.Upgrader
	script   func(conn *websocket.Conn, typ string, raw []byte)
}

func (p *scriptedPeer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}
		p.script(conn, envelope.Type, data)
	}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func collectEvents(t *testing.T, tr Transport, n int) []Event {
	t.Helper()
	events := make([]Event, 0, n)
	for len(events) < n {
		select {
		case ev, ok := <-tr.Events():
			if !ok {
				t.Fatalf("event stream closed after %d events, want %d", len(events), n)
			}
			events = append(events, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d events, want %d", len(events), n)
		}
	}
	return events
}

func TestWS_DecodesInArrivalOrder(t *testing.T) {
	peer := &scriptedPeer{script: func(conn *websocket.Conn, typ string, raw []byte) {
		if typ != "start_interview" {
			return
		}
		_ = conn.WriteJSON(map[string]any{
			"type": "questions_generated",
			"questions": []map[string]any{
				{"id": "q_1", "text": "First question", "category": "behavioral"},
			},
		})
		_ = conn.WriteJSON(map[string]any{
			"type": "question_audio", "questionId": "q_1", "audioArtifact": "AAAA",
		})
	}}
	server := httptest.NewServer(peer)
	defer server.Close()

	tr := NewWS(WSConfig{URL: wsURL(server)})
	defer tr.Close()
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect must be idempotent: %v", err)
	}
	if err := tr.Send(protocol.StartInterview{}); err != nil {
		t.Fatalf("send: %v", err)
	}

	events := collectEvents(t, tr, 2)
	if _, ok := events[0].(MessageEvent).Msg.(protocol.QuestionsGenerated); !ok {
		t.Fatalf("event 0 = %#v", events[0])
	}
	if _, ok := events[1].(MessageEvent).Msg.(protocol.QuestionAudio); !ok {
		t.Fatalf("event 1 = %#v", events[1])
	}
}

func TestWS_MalformedFrameSurfacesDecodeFailed(t *testing.T) {
	peer := &scriptedPeer{script: func(conn *websocket.Conn, typ string, raw []byte) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"answer_analyzed","score":400}`))
	}}
	server := httptest.NewServer(peer)
	defer server.Close()

	tr := NewWS(WSConfig{URL: wsURL(server)})
	defer tr.Close()
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := tr.Send(protocol.CompleteInterview{}); err != nil {
		t.Fatalf("send: %v", err)
	}

	events := collectEvents(t, tr, 1)
	failed, ok := events[0].(DecodeFailedEvent)
	if !ok {
		t.Fatalf("event = %T, want DecodeFailedEvent", events[0])
	}
	if failed.Err == nil {
		t.Fatal("decode error missing")
	}
}

func TestWS_AbnormalDropEmitsDisconnected(t *testing.T) {
	peer := &scriptedPeer{script: func(conn *websocket.Conn, typ string, raw []byte) {
		// Drop the TCP connection without a close handshake.
		_ = conn.UnderlyingConn().Close()
	}}
	server := httptest.NewServer(peer)
	defer server.Close()

	tr := NewWS(WSConfig{URL: wsURL(server)})
	defer tr.Close()
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := tr.Send(protocol.StartInterview{}); err != nil {
		t.Fatalf("send: %v", err)
	}

	events := collectEvents(t, tr, 1)
	if _, ok := events[0].(DisconnectedEvent); !ok {
		t.Fatalf("event = %T, want DisconnectedEvent", events[0])
	}
}

func TestWS_CloseIdempotent(t *testing.T) {
	peer := &scriptedPeer{script: func(conn *websocket.Conn, typ string, raw []byte) {}}
	server := httptest.NewServer(peer)
	defer server.Close()

	tr := NewWS(WSConfig{URL: wsURL(server)})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := tr.Send(protocol.StartInterview{}); err != ErrClosed {
		t.Fatalf("send after close = %v, want ErrClosed", err)
	}
}

func TestWS_CloseWithoutConnect(t *testing.T) {
	tr := NewWS(WSConfig{URL: "ws://127.0.0.1:0"})
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-tr.Events(); ok {
		t.Fatal("events must be closed")
	}
}

func TestWS_ConnectAfterCloseReturnsErrClosed(t *testing.T) {
	peer := &scriptedPeer{script: func(conn *websocket.Conn, typ string, raw []byte) {}}
	server := httptest.NewServer(peer)
	defer server.Close()

	tr := NewWS(WSConfig{URL: wsURL(server)})
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := tr.Connect(context.Background()); err != ErrClosed {
		t.Fatalf("connect after close = %v, want ErrClosed", err)
	}
	if _, ok := <-tr.Events(); ok {
		t.Fatal("events must be closed")
	}
}

func TestWS_ConcurrentConnectAndClose(t *testing.T) {
	peer := &scriptedPeer{script: func(conn *websocket.Conn, typ string, raw []byte) {}}
	server := httptest.NewServer(peer)
	defer server.Close()

	// Whichever side wins the race, nothing may panic and the event stream
	// must always end closed.
	for i := 0; i < 50; i++ {
		tr := NewWS(WSConfig{URL: wsURL(server)})
		done := make(chan struct{})
		go func() {
			_ = tr.Connect(context.Background())
			close(done)
		}()
		_ = tr.Close()
		<-done
		_ = tr.Close()
		for range tr.Events() {
		}
	}
}

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
	"github.com/loomchat/loom/internal/bus"
	"github.com/loomchat/loom/internal/chat"
	"github.com/loomchat/loom/internal/status"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{}

// channelServer is a minimal backend channel for tests: it checks the
// bearer token, then hands the connection to handle.
func channelServer(t *testing.T, token string, handle func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		handle(conn)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnectAndReceiveMessage(t *testing.T) {
	srv := channelServer(t, "tok-1", func(conn *websocket.Conn) {
		payload, _ := json.Marshal(chat.Message{
			ID: 600, ConversationID: 7, SenderID: 42,
			Content: chat.TextContent("hey"), Status: chat.StatusDelivered, CreatedAt: 2000,
		})
		_ = conn.WriteJSON(frame{Event: "message:new", Payload: payload})
		// Keep the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	b := bus.New()
	ch, unsub := b.Subscribe("rt.", 16)
	defer unsub()

	a := NewAdapter(wsURL(srv), "tok-1", b, status.NewMachine(b), zap.NewNop())
	a.Start(context.Background())
	defer a.Stop()

	var got []string
	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt := <-ch:
			got = append(got, evt.Kind)
			if evt.Kind == "rt.message" {
				msg, ok := evt.Payload.(chat.Message)
				if !ok {
					t.Fatalf("payload type = %T, want chat.Message", evt.Payload)
				}
				if msg.ID != 600 || msg.Content.Text != "hey" {
					t.Errorf("message = %+v", msg)
				}
				return
			}
		case <-deadline:
			t.Fatalf("no rt.message received; events seen: %v", got)
		}
	}
}

func TestAuthRejectionStopsReconnecting(t *testing.T) {
	srv := channelServer(t, "good-token", nil)
	defer srv.Close()

	b := bus.New()
	ch, unsub := b.Subscribe("rt.auth_failed", 4)
	defer unsub()

	m := status.NewMachine(b)
	a := NewAdapter(wsURL(srv), "bad-token", b, m, zap.NewNop())
	a.Start(context.Background())
	defer a.Stop()

	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("no rt.auth_failed event")
	}
	if m.Current() != status.AuthRequired {
		t.Errorf("machine state = %s, want AUTH_REQUIRED", m.Current())
	}
}

func TestMissingTokenGoesStraightToAuthRequired(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("rt.auth_failed", 4)
	defer unsub()

	m := status.NewMachine(b)
	a := NewAdapter("ws://unused.invalid", "", b, m, zap.NewNop())
	a.Start(context.Background())
	defer a.Stop()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no rt.auth_failed event")
	}
	if m.Current() != status.AuthRequired {
		t.Errorf("machine state = %s, want AUTH_REQUIRED", m.Current())
	}
}

func TestSendWritesFrame(t *testing.T) {
	frames := make(chan frame, 1)
	srv := channelServer(t, "tok-1", func(conn *websocket.Conn) {
		var f frame
		if err := conn.ReadJSON(&f); err == nil {
			frames <- f
		}
	})
	defer srv.Close()

	b := bus.New()
	ch, unsub := b.Subscribe("rt.connected", 4)
	defer unsub()

	a := NewAdapter(wsURL(srv), "tok-1", b, status.NewMachine(b), zap.NewNop())
	a.Start(context.Background())
	defer a.Stop()

	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("channel never connected")
	}

	err := a.Send(OutboundMessage{
		ClientMessageID: "c-1",
		ReceiverID:      42,
		Content:         chat.TextContent("hi"),
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case f := <-frames:
		if f.Event != "message:send" {
			t.Errorf("event = %q, want message:send", f.Event)
		}
		var out OutboundMessage
		if err := json.Unmarshal(f.Payload, &out); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if out.ClientMessageID != "c-1" || out.ReceiverID != 42 {
			t.Errorf("payload = %+v", out)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	b := bus.New()
	a := NewAdapter("ws://unused.invalid", "tok-1", b, status.NewMachine(b), zap.NewNop())

	err := a.Send(OutboundMessage{ClientMessageID: "c-1", ReceiverID: 42})
	if err != ErrNotConnected {
		t.Errorf("error = %v, want ErrNotConnected", err)
	}
}

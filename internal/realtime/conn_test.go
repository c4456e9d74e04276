package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Fills the event channel past its buffer without a consumer, then closes
// the connection and checks the reader goroutine lets go of the channel.
func TestCloseUnblocksReaderWithoutConsumer(t *testing.T) {
	sent := make(chan struct{})
	hold := make(chan struct{})
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer ws.Close()
		for i := 0; i < 400; i++ {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.created"}`)); err != nil {
				return
			}
		}
		close(sent)
		// Keep the socket open so the client side is blocked on the
		// channel send, not on a read error.
		ws.ReadMessage()
		close(hold)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := Dial(context.Background(), wsURL, "gpt-realtime", "sk-test")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	<-sent
	time.Sleep(20 * time.Millisecond)

	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-conn.Events():
			if !ok {
				<-hold
				return
			}
		case <-deadline:
			t.Fatalf("events channel never closed after Close")
		}
	}
}

func TestEventsChannelClosesOnServerClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created"}`))
		ws.Close()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := Dial(context.Background(), wsURL, "gpt-realtime", "sk-test")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var got []ServerEvent
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt, ok := <-conn.Events():
			if !ok {
				if len(got) != 1 || got[0].Type != TypeSessionCreated {
					t.Fatalf("events = %+v", got)
				}
				return
			}
			got = append(got, evt)
		case <-deadline:
			t.Fatalf("events channel never closed after server hangup")
		}
	}
}

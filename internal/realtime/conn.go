package realtime

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a live realtime API websocket for one call.
type Conn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan ServerEvent
	done      chan struct{}
}

// Dial opens the realtime socket for the given model.
func Dial(ctx context.Context, wsBaseURL, model, apiKey string) (*Conn, error) {
	u, err := url.Parse(strings.TrimRight(wsBaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+apiKey)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("dial realtime websocket: %w", err)
	}

	c := &Conn{conn: conn, events: make(chan ServerEvent, 256), done: make(chan struct{})}
	go c.readLoop()
	return c, nil
}

// Events delivers decoded server events in arrival order. The channel is
// closed when the socket closes.
func (c *Conn) Events() <-chan ServerEvent { return c.events }

func (c *Conn) UpdateSession(cfg SessionConfig) error {
	return c.writeJSON(sessionUpdate{Type: "session.update", Session: cfg})
}

func (c *Conn) CreateResponse(req ResponseRequest) error {
	if req.Input == nil {
		req.Input = []any{}
	}
	return c.writeJSON(responseCreate{Type: "response.create", Response: req})
}

func (c *Conn) AppendAudio(audioBase64 string) error {
	return c.writeJSON(audioAppend{Type: "input_audio_buffer.append", Audio: audioBase64})
}

func (c *Conn) SendFunctionOutput(callID, output string) error {
	return c.writeJSON(itemCreate{
		Type: "conversation.item.create",
		Item: functionCallOutput{Type: "function_call_output", CallID: callID, Output: output},
	})
}

func (c *Conn) Close() error {
	var retErr error
	c.closeOnce.Do(func() {
		close(c.done)
		retErr = c.conn.Close()
	})
	return retErr
}

func (c *Conn) writeJSON(payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(payload)
}

func (c *Conn) readLoop() {
	defer func() {
		_ = c.Close()
		close(c.events)
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		evt, err := ParseServerEvent(data)
		if err != nil {
			log.Printf("realtime: skipping malformed message: %v", err)
			continue
		}
		// The caller may stop draining events before the socket closes.
		// Close unblocks the send so the loop can exit and the channel
		// gets closed.
		select {
		case c.events <- evt:
		case <-c.done:
			return
		}
	}
}

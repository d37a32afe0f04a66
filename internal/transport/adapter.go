package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/loomchat/loom/internal/bus"
	"github.com/loomchat/loom/internal/chat"
	"github.com/loomchat/loom/internal/status"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by Send while the channel is down. The
// REST path still stores the message, so senders treat this as
// non-fatal.
var ErrNotConnected = errors.New("realtime channel not connected")

// Adapter owns the websocket connection to the backend's realtime
// channel. It drives the status machine through the connection
// lifecycle, publishes inbound frames as rt.* bus events, and exposes a
// send primitive. Reconnection is the adapter's own concern: dial
// failures back off exponentially, an auth rejection stops the loop.
type Adapter struct {
	url     string
	token   string
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// NewAdapter creates an adapter for the given socket URL and bearer token.
func NewAdapter(socketURL, token string, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Adapter {
	return &Adapter{
		url:     socketURL,
		token:   token,
		bus:     b,
		machine: machine,
		logger:  logger,
	}
}

// Start launches the connect/read loop. Without a token the adapter
// goes straight to AUTH_REQUIRED and never dials.
func (a *Adapter) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	if a.token == "" {
		a.logger.Warn("no token, realtime channel disabled")
		_ = a.machine.Transition(status.AuthRequired)
		a.publish("rt.auth_failed", nil)
		return
	}

	go a.run(ctx)
}

// Stop terminates the loop and closes the connection.
func (a *Adapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Lock()
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
	a.mu.Unlock()
}

// Send writes a message:send frame. A delivery acknowledgement arrives
// later as a message:new frame carrying the same correlation id.
func (a *Adapter) Send(out OutboundMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return ErrNotConnected
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return a.conn.WriteJSON(frame{Event: eventMessageSend, Payload: payload})
}

func (a *Adapter) run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // keep trying until stopped

	for {
		_ = a.machine.Transition(status.Connecting)

		header := http.Header{"Authorization": {"Bearer " + a.token}}
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, a.url, header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				a.logger.Warn("realtime channel rejected token")
				_ = a.machine.Transition(status.AuthRequired)
				a.publish("rt.auth_failed", nil)
				return
			}
			a.logger.Warn("realtime dial failed", zap.Error(err))
			a.publish("rt.connect_error", err.Error())
			_ = a.machine.Transition(status.Reconnecting)

			select {
			case <-time.After(bo.NextBackOff()):
				continue
			case <-ctx.Done():
				return
			}
		}

		bo.Reset()
		a.setConn(conn)
		a.logger.Info("realtime channel connected")
		_ = a.machine.Transition(status.Online)
		a.publish("rt.connected", nil)

		authRejected := a.readLoop(ctx, conn)
		a.setConn(nil)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		if authRejected {
			a.logger.Warn("realtime channel signalled auth failure")
			_ = a.machine.Transition(status.AuthRequired)
			a.publish("rt.auth_failed", nil)
			return
		}

		a.logger.Warn("realtime channel disconnected")
		a.publish("rt.disconnected", nil)
		_ = a.machine.Transition(status.Reconnecting)
	}
}

// readLoop consumes frames until the connection drops. Returns true if
// the server signalled an auth rejection, which must not be retried.
func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn) bool {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return false
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			a.logger.Warn("malformed frame", zap.Error(err))
			continue
		}

		switch f.Event {
		case eventMessageNew:
			var msg chat.Message
			if err := json.Unmarshal(f.Payload, &msg); err != nil {
				a.logger.Warn("malformed message:new payload", zap.Error(err))
				continue
			}
			a.publish("rt.message", msg)
		case eventMessageError:
			var msgErr MessageError
			if err := json.Unmarshal(f.Payload, &msgErr); err != nil {
				a.logger.Warn("malformed message:error payload", zap.Error(err))
				continue
			}
			a.publish("rt.message_error", msgErr)
		case eventError:
			var chErr ChannelError
			if err := json.Unmarshal(f.Payload, &chErr); err != nil {
				a.logger.Warn("malformed error payload", zap.Error(err))
				continue
			}
			if chErr.AuthRejected() {
				return true
			}
			a.publish("rt.error", chErr)
		default:
			a.logger.Debug("ignoring unknown frame", zap.String("event", f.Event))
		}

		if ctx.Err() != nil {
			return false
		}
	}
}

func (a *Adapter) setConn(conn *websocket.Conn) {
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
}

func (a *Adapter) publish(kind string, payload any) {
	a.bus.Publish(bus.Event{Kind: kind, At: time.Now(), Payload: payload})
}

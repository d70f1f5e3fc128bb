// Package clientha drives Home Assistant over its WebSocket API: semantic
// commands become service calls, and labeled entities can be enumerated for
// channel assignment.
package clientha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"artnet2ha/internal/command"
	"artnet2ha/internal/config"
	"artnet2ha/internal/logger"
	"github.com/gorilla/websocket"
)

// ClientHA is one authenticated WebSocket session. Requests are correlated
// by message id, so calls for different entities overlap on the wire; only
// the write itself is serialized. The client does not reconnect on its own:
// after a connection loss every call returns ErrNotConnected until the
// bridge is restarted.
type ClientHA struct {
	logger logger.Logger
	cfg    config.HAConf

	conn      *websocket.Conn
	writeMu   sync.Mutex
	pendingMu sync.Mutex
	pending   map[int64]chan serverMsg
	nextID    atomic.Int64
	connected atomic.Bool
	done      chan struct{}
}

// serverMsg is the inbound message envelope. Result frames carry the fields
// after Type; the auth phase uses Message.
type serverMsg struct {
	ID      int64           `json:"id"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *haError        `json:"error"`
	Message string          `json:"message"`
}

type haError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type authMsg struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

type callServiceMsg struct {
	ID      int64          `json:"id"`
	Type    string         `json:"type"`
	Domain  string         `json:"domain"`
	Service string         `json:"service"`
	Data    map[string]any `json:"service_data,omitempty"`
}

// NewClient builds a client for the configured Home Assistant instance.
func NewClient(log logger.Logger, cfg config.HAConf) *ClientHA {
	return &ClientHA{
		logger:  log,
		cfg:     cfg,
		pending: make(map[int64]chan serverMsg),
	}
}

// Start dials the WebSocket endpoint and runs the token handshake. On
// success a reader goroutine takes over the connection.
func (c *ClientHA) Start(ctx context.Context) error {
	log := c.logger.With(logger.Fields{"module": "homeassistant"})

	wsURL, err := websocketURL(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("homeassistant: bad url %q: %w", c.cfg.URL, err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("homeassistant: dial %s: %w", wsURL, err)
	}

	deadline := time.Now().Add(c.cfg.CallTimeout.Duration())
	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)

	var hello serverMsg
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return fmt.Errorf("homeassistant: handshake: %w", err)
	}
	if hello.Type != "auth_required" {
		conn.Close()
		return fmt.Errorf("homeassistant: unexpected handshake message %q", hello.Type)
	}
	if err := conn.WriteJSON(authMsg{Type: "auth", AccessToken: c.cfg.Token}); err != nil {
		conn.Close()
		return fmt.Errorf("homeassistant: send auth: %w", err)
	}
	var verdict serverMsg
	if err := conn.ReadJSON(&verdict); err != nil {
		conn.Close()
		return fmt.Errorf("homeassistant: auth reply: %w", err)
	}
	if verdict.Type != "auth_ok" {
		conn.Close()
		return fmt.Errorf("homeassistant: auth rejected: %s", verdict.Message)
	}

	_ = conn.SetReadDeadline(time.Time{})
	_ = conn.SetWriteDeadline(time.Time{})

	c.conn = conn
	c.done = make(chan struct{})
	c.connected.Store(true)
	go c.readLoop()

	log.Infof("connected to %s", wsURL)
	return nil
}

// Stop closes the session; in-flight calls fail with ErrNotConnected.
func (c *ClientHA) Stop() error {
	c.connected.Store(false)
	if c.conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()
	select {
	case <-c.done:
	case <-time.After(time.Second):
	}
	return err
}

// Connected reports whether the session is usable.
func (c *ClientHA) Connected() bool { return c.connected.Load() }

// Deliver turns one command into a turn_on or turn_off service call and
// waits for Home Assistant to acknowledge it.
func (c *ClientHA) Deliver(ctx context.Context, entityID string, cmd command.Command) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout.Duration())
	defer cancel()

	service := "turn_on"
	data := map[string]any{"entity_id": entityID}
	if cmd.Off() {
		service = "turn_off"
	} else {
		switch cmd.Kind {
		case command.KindBrightness:
			data["brightness"] = int(cmd.Brightness)
		case command.KindColor:
			data["brightness"] = int(cmd.Brightness)
			switch cmd.Space {
			case command.SpaceRGBW:
				data["rgbw_color"] = []int{int(cmd.R), int(cmd.G), int(cmd.B), int(cmd.W)}
			case command.SpaceRGBWW:
				data["rgbww_color"] = []int{int(cmd.R), int(cmd.G), int(cmd.B), int(cmd.CW), int(cmd.WW)}
			default:
				data["rgb_color"] = []int{int(cmd.R), int(cmd.G), int(cmd.B)}
			}
		case command.KindColorTemp:
			data["brightness"] = int(cmd.Brightness)
			data["kelvin"] = int(cmd.Kelvin)
		}
	}

	id := c.nextID.Add(1)
	_, err := c.call(ctx, id, callServiceMsg{
		ID:      id,
		Type:    "call_service",
		Domain:  entityDomain(entityID),
		Service: service,
		Data:    data,
	})
	if err != nil {
		return err
	}
	c.logger.With(logger.Fields{"module": "homeassistant", "entity": entityID}).
		Debugf("%s %s", service, cmd)
	return nil
}

// call sends one request and waits for the result frame matching id. req
// must carry the same id in its ID field.
func (c *ClientHA) call(ctx context.Context, id int64, req any) (json.RawMessage, error) {
	if !c.connected.Load() {
		return nil, command.ErrNotConnected
	}

	ch := make(chan serverMsg, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("homeassistant: send: %w", err)
	}

	select {
	case msg := <-ch:
		if !msg.Success {
			if msg.Error != nil {
				return nil, fmt.Errorf("homeassistant: %s: %s", msg.Error.Code, msg.Error.Message)
			}
			return nil, fmt.Errorf("homeassistant: call %d failed", id)
		}
		return msg.Result, nil
	case <-c.done:
		return nil, command.ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *ClientHA) readLoop() {
	log := c.logger.With(logger.Fields{"module": "homeassistant"})
	defer close(c.done)

	for {
		var msg serverMsg
		if err := c.conn.ReadJSON(&msg); err != nil {
			wasUp := c.connected.Swap(false)
			c.pendingMu.Lock()
			c.pending = make(map[int64]chan serverMsg)
			c.pendingMu.Unlock()
			if wasUp {
				log.Errorf("connection lost: %v", err)
			} else {
				log.Debug("session closed")
			}
			return
		}
		if msg.Type != "result" {
			continue
		}
		c.pendingMu.Lock()
		ch := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.pendingMu.Unlock()
		if ch != nil {
			ch <- msg
		}
	}
}

func websocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/api/websocket"
	return u.String(), nil
}

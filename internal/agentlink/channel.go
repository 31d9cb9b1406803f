// Package agentlink is the live transport between overseer and the agent
// gateway: inbound hook events from running agents, outbound permission
// responses back to them.
package agentlink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	linkHandshakeTimeout = 4 * time.Second
	linkWriteTimeout     = 2 * time.Second
	linkReadLimit        = 1 << 20
)

var (
	ErrNotConnected   = errors.New("agent link not connected")
	ErrDialSuperseded = errors.New("agent link dial superseded by a newer dial")
)

// OptionScope says how long a granted permission holds.
type OptionScope string

const (
	ScopeOnce    OptionScope = "once"
	ScopeSession OptionScope = "session"
)

// PermissionOptionPayload is one selectable answer carried on a permission
// request hook event.
type PermissionOptionPayload struct {
	Label       string      `json:"label"`
	Value       string      `json:"value"`
	Destructive bool        `json:"destructive,omitempty"`
	Scope       OptionScope `json:"scope,omitempty"`
}

// HookEvent is the inbound wire payload emitted by an execution context.
// ToolInput is a heterogeneous JSON object; use the accessor helpers rather
// than asserting on the map directly.
type HookEvent struct {
	EventID           string                    `json:"event_id,omitempty"`
	Timestamp         int64                     `json:"timestamp,omitempty"`
	EventType         string                    `json:"event_type,omitempty"`
	ContextID         string                    `json:"context_id"`
	HookEventName     string                    `json:"hook_event_name"`
	ToolName          string                    `json:"tool_name,omitempty"`
	ToolInput         map[string]any            `json:"tool_input,omitempty"`
	CWD               string                    `json:"cwd,omitempty"`
	SessionID         string                    `json:"session_id,omitempty"`
	PermissionOptions []PermissionOptionPayload `json:"permission_options,omitempty"`
}

// ToolInputString returns a string field of the tool input, or "".
func (e HookEvent) ToolInputString(key string) string {
	if e.ToolInput == nil {
		return ""
	}
	s, _ := e.ToolInput[key].(string)
	return s
}

// PermissionResponse is the outbound payload relaying the operator's chosen
// option to the originating agent.
type PermissionResponse struct {
	SessionID         string `json:"session_id"`
	ContextID         string `json:"context_id"`
	ChosenOptionValue string `json:"chosen_option_value"`
}

// Channel is a reconnectable websocket client for the agent gateway. Each
// Dial produces a fresh event stream; the previous connection, if any, is
// closed and its stream ends. A dial that completes after a newer dial has
// started is discarded rather than installed.
type Channel struct {
	url    string
	token  string
	dialer websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	dialSeq uint64

	// writeMu serializes outbound frames; gorilla allows one writer at a
	// time. Kept separate from mu so Dial and Close never wait on a write.
	writeMu sync.Mutex
}

func NewChannel(rawURL, token string) (*Channel, error) {
	normalized, err := normalizeLinkURL(rawURL)
	if err != nil {
		return nil, err
	}
	return &Channel{
		url:   normalized,
		token: strings.TrimSpace(token),
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: linkHandshakeTimeout,
		},
	}, nil
}

func normalizeLinkURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("agent link url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse AGENT_LINK_URL: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported agent link url scheme %q", u.Scheme)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// Dial connects and returns the inbound event stream. The stream closes when
// the connection drops; the caller decides whether to redial. If a newer Dial
// starts while this one is still handshaking, this one's result is thrown
// away on completion and ErrDialSuperseded is returned.
func (c *Channel) Dial(ctx context.Context) (<-chan HookEvent, error) {
	c.mu.Lock()
	c.dialSeq++
	seq := c.dialSeq
	c.mu.Unlock()

	var header http.Header
	if c.token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + c.token}}
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("agent link dial failed (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("agent link dial failed: %w", err)
	}
	conn.SetReadLimit(linkReadLimit)

	c.mu.Lock()
	if seq != c.dialSeq {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, ErrDialSuperseded
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()

	events := make(chan HookEvent, 256)
	go func() {
		defer close(events)
		for {
			var evt HookEvent
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			events <- evt
		}
	}()
	return events, nil
}

// SendPermissionResponse writes the operator's decision to the gateway. The
// caller must treat an error as "not delivered" and leave the event pending.
func (c *Channel) SendPermissionResponse(ctx context.Context, resp PermissionResponse) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(linkWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	defer conn.SetWriteDeadline(time.Time{})

	if err := conn.WriteJSON(resp); err != nil {
		return fmt.Errorf("agent link write: %w", err)
	}
	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

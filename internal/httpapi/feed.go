package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/overseerhq/overseer/internal/protocol"
)

// handleEventFeed streams inbox activity to an operator client and accepts
// resolution commands over the same connection.
func (s *Server) handleEventFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	feed, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	outbound := make(chan any, 256)

	state, _ := s.events.ConnectionState()
	outbound <- protocol.LinkState{Type: protocol.TypeLinkState, State: string(state)}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-feed:
				if !ok {
					return
				}
				var msg any
				if evt.Resolved {
					msg = protocol.EventResolved{Type: protocol.TypeEventResolved, EventID: evt.ID}
				} else {
					msg = protocol.EventReceived{Type: protocol.TypeEventReceived, Event: evt}
				}
				select {
				case outbound <- msg:
				default:
					// Keep websocket writes single-threaded; drop if the
					// outbound queue is saturated.
				}
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := feedMessageTypeOf(msg); ok {
					s.countWSMessage("outbound", string(t))
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.pushFeedError(outbound, "invalid_client_message", err.Error())
			continue
		}
		if t, ok := feedMessageTypeOf(parsed); ok {
			s.countWSMessage("inbound", string(t))
		}
		s.dispatchFeedCommand(ctx, parsed, outbound)
	}

	cancel()
	<-writerDone
}

func (s *Server) dispatchFeedCommand(ctx context.Context, parsed any, outbound chan<- any) {
	switch msg := parsed.(type) {
	case protocol.ResolveEvent:
		if err := s.events.ResolveEvent(msg.EventID); err != nil {
			s.pushFeedError(outbound, "resolve_failed", err.Error())
		}
	case protocol.RespondPermission:
		if err := s.events.SendPermissionResponse(ctx, msg.EventID, msg.OptionValue); err != nil {
			s.pushFeedError(outbound, "respond_failed", err.Error())
		}
	case protocol.ConfirmCompletion:
		if _, err := s.coord.ConfirmTaskCompletion(msg.EventID, msg.ContextID); err != nil {
			s.pushFeedError(outbound, "confirm_failed", err.Error())
			return
		}
		snapshot := protocol.QueueChanged{
			Type:      protocol.TypeQueueChanged,
			ContextID: msg.ContextID,
			Queue:     s.queueChangedSnapshot(msg.ContextID),
		}
		select {
		case outbound <- snapshot:
		default:
		}
	}
}

func (s *Server) pushFeedError(outbound chan<- any, code, detail string) {
	select {
	case outbound <- protocol.ErrorEvent{Type: protocol.TypeErrorEvent, Code: code, Detail: detail}:
	default:
	}
}

func (s *Server) countWSMessage(direction, msgType string) {
	if s.metrics != nil {
		s.metrics.WSMessages.WithLabelValues(direction, msgType).Inc()
	}
}

func feedMessageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ResolveEvent:
		return m.Type, true
	case protocol.RespondPermission:
		return m.Type, true
	case protocol.ConfirmCompletion:
		return m.Type, true
	case protocol.EventReceived:
		return m.Type, true
	case protocol.EventResolved:
		return m.Type, true
	case protocol.QueueChanged:
		return m.Type, true
	case protocol.LinkState:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}

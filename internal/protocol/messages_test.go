package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageRespondPermission(t *testing.T) {
	raw := []byte(`{"type":"respond_permission","event_id":"evt-1","option_value":"deny"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	respond, ok := msg.(RespondPermission)
	if !ok {
		t.Fatalf("message type = %T, want RespondPermission", msg)
	}
	if respond.EventID != "evt-1" || respond.OptionValue != "deny" {
		t.Fatalf("unexpected respond_permission: %+v", respond)
	}
}

func TestParseClientMessageConfirmCompletion(t *testing.T) {
	raw := []byte(`{"type":"confirm_completion","event_id":"evt-2","context_id":"ctx-1"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	confirm, ok := msg.(ConfirmCompletion)
	if !ok {
		t.Fatalf("message type = %T, want ConfirmCompletion", msg)
	}
	if confirm.ContextID != "ctx-1" || confirm.EventID != "evt-2" {
		t.Fatalf("unexpected confirm_completion: %+v", confirm)
	}
}

func TestParseClientMessageConfirmCompletionAllowsEmptyEventID(t *testing.T) {
	raw := []byte(`{"type":"confirm_completion","context_id":"ctx-1"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if confirm := msg.(ConfirmCompletion); confirm.EventID != "" {
		t.Fatalf("EventID = %q, want empty", confirm.EventID)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsInvalidResolve(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"resolve_event","event_id":""}`)); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := ParseClientMessage([]byte(`{"type":"respond_permission","event_id":"evt-1"}`)); err == nil {
		t.Fatalf("expected validation error")
	}
}

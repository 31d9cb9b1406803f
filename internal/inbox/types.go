package inbox

import (
	"time"

	"github.com/overseerhq/overseer/internal/agentlink"
)

type EventKind string

const (
	KindPermissionRequest  EventKind = "permission_request"
	KindCompletion         EventKind = "completion"
	KindSubagentCompletion EventKind = "subagent_completion"
)

// kindForHookEvent maps inbound hook names to event kinds. Anything else is
// dropped at ingest.
func kindForHookEvent(name string) (EventKind, bool) {
	switch name {
	case "PermissionRequest":
		return KindPermissionRequest, true
	case "Stop":
		return KindCompletion, true
	case "SubagentStop":
		return KindSubagentCompletion, true
	default:
		return "", false
	}
}

// PermissionOption is one selectable response to a permission request. The
// destructive flag marks the deny choice; scope says whether a grant covers
// one occurrence or the whole session.
type PermissionOption struct {
	Label       string                `json:"label"`
	Value       string                `json:"value"`
	Destructive bool                  `json:"destructive,omitempty"`
	Scope       agentlink.OptionScope `json:"scope,omitempty"`
}

// Event is an observation emitted by an execution context, tracked through a
// pending-to-resolved lifecycle. Resolved is monotone: once true it never
// reverts.
type Event struct {
	ID         string             `json:"id"`
	Kind       EventKind          `json:"kind"`
	ContextID  string             `json:"context_id"`
	SessionID  string             `json:"session_id,omitempty"`
	ToolName   string             `json:"tool_name,omitempty"`
	ToolInput  map[string]any     `json:"tool_input,omitempty"`
	CWD        string             `json:"cwd,omitempty"`
	Options    []PermissionOption `json:"permission_options,omitempty"`
	Resolved   bool               `json:"resolved"`
	EmittedAt  time.Time          `json:"emitted_at"`
	ReceivedAt time.Time          `json:"received_at"`
}

func (e Event) Clone() Event {
	out := e
	if e.ToolInput != nil {
		out.ToolInput = make(map[string]any, len(e.ToolInput))
		for k, v := range e.ToolInput {
			out.ToolInput[k] = v
		}
	}
	if e.Options != nil {
		out.Options = make([]PermissionOption, len(e.Options))
		copy(out.Options, e.Options)
	}
	return out
}

// Option looks up a permission option by its value token.
func (e Event) Option(value string) (PermissionOption, bool) {
	for _, opt := range e.Options {
		if opt.Value == value {
			return opt, true
		}
	}
	return PermissionOption{}, false
}

type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

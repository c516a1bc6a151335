package audit

import (
	"encoding/json"
	"time"
)

// Action identifies the kind of security-relevant operation.
type Action string

const (
	ActionLogin          Action = "auth.login"
	ActionLogout         Action = "auth.logout"
	ActionTokenIssue     Action = "token.issue"
	ActionTokenVerify    Action = "token.verify"
	ActionTokenRefresh   Action = "token.refresh"
	ActionTokenRevoke    Action = "token.revoke"
	ActionAccessDenied   Action = "authz.access_denied"
	ActionEscalation     Action = "authz.escalation_denied"
	ActionThrottleExceed Action = "throttle.exceeded"
	ActionRequest        Action = "http.request"
)

// Outcome is the result of the audited operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// Event is a single append-only audit record. Once created it is never
// mutated; immutability at rest is the sink's concern.
type Event struct {
	Time    time.Time `json:"time"`
	Action  Action    `json:"action"`
	Outcome Outcome   `json:"outcome"`

	// ActorID is empty for anonymous callers.
	ActorID string `json:"actor_id,omitempty"`

	TargetKind string `json:"target_kind,omitempty"`
	TargetID   string `json:"target_id,omitempty"`

	IP        string `json:"ip,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	DurationMS int64                  `json:"duration_ms,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the event to JSON.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an event from JSON.
func FromJSON(data []byte) (*Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return &event, err
}

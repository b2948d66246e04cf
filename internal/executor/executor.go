package executor

import (
	"context"

	"github.com/playmesh-dev/playmesh/go/internal/state"
)

// Status is the outcome reported by the rule-evaluation boundary.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusFailed         Status = "failed"
	StatusPartialSuccess Status = "partial_success"
	StatusPending        Status = "pending"
)

// Failure reasons attached to StatusFailed results.
const (
	ReasonTimeout     = "timeout"
	ReasonRejected    = "rejected"
	ReasonUnavailable = "unavailable"
)

// Request carries one action to the rule-evaluation boundary. StateSnapshot
// is the point-in-time view fetched at the start of the transaction and is
// read-only to the callee.
type Request struct {
	ID            string          `json:"id"`
	ActionType    string          `json:"actionType"`
	Payload       state.Value     `json:"payload"`
	StateSnapshot state.GameState `json:"stateSnapshot"`
}

// FunctionResult is the structured response for one executed action. For
// PartialSuccess results, updates the rule logic refused carry Rejected=true;
// Pending means resolution was deferred and any updates are provisional.
type FunctionResult struct {
	ID            string                        `json:"id"`
	Status        Status                        `json:"status"`
	EntityUpdates []state.EntityAttributeUpdate `json:"entityUpdates"`
	FailureReason string                        `json:"failureReason,omitempty"`
}

// Accepted returns the updates the rule logic marked safe to apply.
func (r *FunctionResult) Accepted() []state.EntityAttributeUpdate {
	out := make([]state.EntityAttributeUpdate, 0, len(r.EntityUpdates))
	for _, u := range r.EntityUpdates {
		if !u.Rejected {
			out = append(out, u)
		}
	}
	return out
}

// RejectedUpdates returns the updates the rule logic refused.
func (r *FunctionResult) RejectedUpdates() []state.EntityAttributeUpdate {
	out := make([]state.EntityAttributeUpdate, 0)
	for _, u := range r.EntityUpdates {
		if u.Rejected {
			out = append(out, u)
		}
	}
	return out
}

// Executor invokes the external, stateless rule-evaluation boundary. It is a
// pure request/response boundary: implementations never apply updates
// themselves. Remote failures surface as StatusFailed results, not as errors;
// the error return is reserved for local misuse (unmarshalable payloads and
// the like).
type Executor interface {
	Execute(ctx context.Context, req Request) (*FunctionResult, error)
}

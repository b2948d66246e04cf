package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/playmesh-dev/playmesh/go/internal/events"
	"github.com/playmesh-dev/playmesh/go/internal/executor"
	"github.com/playmesh-dev/playmesh/go/internal/session"
	"github.com/playmesh-dev/playmesh/go/internal/state"
)

// OutcomeStatus is the terminal disposition of one submitted action.
type OutcomeStatus string

const (
	OutcomeApplied  OutcomeStatus = "applied"
	OutcomePending  OutcomeStatus = "pending"
	OutcomeRejected OutcomeStatus = "rejected"
)

// RejectReason classifies why an action was rejected.
type RejectReason string

const (
	ReasonNone           RejectReason = ""
	ReasonSessionInvalid RejectReason = "session_invalid"
	ReasonBadPayload     RejectReason = "bad_payload"
	ReasonFunctionFailed RejectReason = "function_failed"
	ReasonSessionExpired RejectReason = "session_expired"
)

// ActionRequest is a client-submitted intent against a live session. It is
// immutable once submitted.
type ActionRequest struct {
	SessionID      string      `json:"session_id"`
	ActionType     string      `json:"action_type"`
	Payload        state.Value `json:"payload"`
	ClientVersion  string      `json:"client_version,omitempty"`
	ClientPlatform string      `json:"client_platform,omitempty"`
}

// Outcome is what the caller gets back from Submit. Applied lists the updates
// merged into session state; Rejected lists updates the rule logic refused
// (dropped from the merge, retained here for visibility). Detail carries the
// sub-reason for rejections, such as the function boundary's timeout marker.
type Outcome struct {
	ActionID string                        `json:"action_id"`
	Status   OutcomeStatus                 `json:"status"`
	Reason   RejectReason                  `json:"reason,omitempty"`
	Detail   string                        `json:"detail,omitempty"`
	Applied  []state.EntityAttributeUpdate `json:"applied,omitempty"`
	Rejected []state.EntityAttributeUpdate `json:"rejected_updates,omitempty"`
}

// publishTimeout bounds the detached post-commit publish.
const publishTimeout = 30 * time.Second

// Pipeline orchestrates action execution: validate, snapshot, execute against
// the rule boundary, merge, publish. Many submissions run concurrently;
// per-session mutation order is enforced by the session store, not here.
type Pipeline struct {
	store     *session.Store
	exec      executor.Executor
	publisher *events.Publisher
	schemas   *SchemaRegistry
	metrics   *Metrics
	logger    logr.Logger
}

// New creates a pipeline. metrics may be nil when the caller does not scrape.
func New(
	store *session.Store,
	exec executor.Executor,
	publisher *events.Publisher,
	schemas *SchemaRegistry,
	metrics *Metrics,
	logger logr.Logger,
) *Pipeline {
	if schemas == nil {
		schemas = NewSchemaRegistry()
	}
	return &Pipeline{
		store:     store,
		exec:      exec,
		publisher: publisher,
		schemas:   schemas,
		metrics:   metrics,
		logger:    logger.WithName("action-pipeline"),
	}
}

// Submit runs one action through the pipeline and returns its outcome.
// Validation and merge-conflict rejections are terminal and never retried
// here; resubmission is the caller's decision. Submit returns once the merge
// has committed and the resulting event is buffered for fan-out; delivery to
// subscribers runs asynchronously, detached from the caller's context, so
// cancellation past the merge cannot roll anything back.
func (p *Pipeline) Submit(ctx context.Context, req ActionRequest) *Outcome {
	actionID := uuid.New().String()
	logger := p.logger.WithValues("actionID", actionID, "sessionID", req.SessionID, "actionType", req.ActionType)

	// Validating.
	info, err := p.store.Get(req.SessionID)
	if err != nil {
		logger.V(1).Info("session invalid at validation")
		return p.finish(&Outcome{ActionID: actionID, Status: OutcomeRejected, Reason: ReasonSessionInvalid})
	}
	if err := p.schemas.Validate(req.ActionType, req.Payload); err != nil {
		logger.V(1).Info("payload rejected", "error", err.Error())
		return p.finish(&Outcome{
			ActionID: actionID,
			Status:   OutcomeRejected,
			Reason:   ReasonBadPayload,
			Detail:   err.Error(),
		})
	}

	// Executing: the snapshot handed to the boundary is an immutable copy.
	snapshot, err := p.store.Snapshot(req.SessionID)
	if err != nil {
		return p.finish(&Outcome{ActionID: actionID, Status: OutcomeRejected, Reason: ReasonSessionInvalid})
	}

	start := time.Now()
	result, err := p.exec.Execute(ctx, executor.Request{
		ID:            actionID,
		ActionType:    req.ActionType,
		Payload:       req.Payload,
		StateSnapshot: snapshot,
	})
	p.metrics.observeFunctionLatency(time.Since(start).Seconds())
	if err != nil {
		logger.Error(err, "function execution errored")
		return p.finish(&Outcome{
			ActionID: actionID,
			Status:   OutcomeRejected,
			Reason:   ReasonFunctionFailed,
			Detail:   err.Error(),
		})
	}

	switch result.Status {
	case executor.StatusFailed:
		logger.Info("function failed", "reason", result.FailureReason)
		return p.finish(&Outcome{
			ActionID: actionID,
			Status:   OutcomeRejected,
			Reason:   ReasonFunctionFailed,
			Detail:   result.FailureReason,
		})
	case executor.StatusPending:
		// Deferred resolution: nothing applied, nothing published. The caller
		// resubmits; there is no background follow-up.
		logger.Info("function deferred resolution")
		return p.finish(&Outcome{ActionID: actionID, Status: OutcomePending})
	case executor.StatusSuccess, executor.StatusPartialSuccess:
		// Fall through to merge.
	default:
		logger.Info("function returned unknown status", "status", string(result.Status))
		return p.finish(&Outcome{
			ActionID: actionID,
			Status:   OutcomeRejected,
			Reason:   ReasonFunctionFailed,
			Detail:   "unknown result status " + string(result.Status),
		})
	}

	// Merging: only accepted updates reach the store; rejected ones stay on
	// the outcome. Past this point caller cancellation is not honored.
	accepted := result.Accepted()
	rejected := result.RejectedUpdates()

	if _, err := p.store.ApplyUpdates(req.SessionID, accepted); err != nil {
		if errors.Is(err, session.ErrSessionConflict) {
			p.metrics.observeMergeConflict()
			logger.Info("merge lost race with session expiry")
			return p.finish(&Outcome{
				ActionID: actionID,
				Status:   OutcomeRejected,
				Reason:   ReasonSessionExpired,
				Rejected: rejected,
			})
		}
		logger.Error(err, "merge failed")
		return p.finish(&Outcome{
			ActionID: actionID,
			Status:   OutcomeRejected,
			Reason:   ReasonSessionExpired,
			Detail:   err.Error(),
			Rejected: rejected,
		})
	}

	// Published: buffered in merge-commit order; delivery is fire-and-forget
	// relative to the caller. A zero-update success still emits an event with
	// an empty update list.
	p.publish(actionID, info, accepted)

	return p.finish(&Outcome{
		ActionID: actionID,
		Status:   OutcomeApplied,
		Applied:  accepted,
		Rejected: rejected,
	})
}

func (p *Pipeline) publish(actionID string, info session.Info, applied []state.EntityAttributeUpdate) {
	event := events.AttributeUpdateEvent{
		ID:        uuid.New().String(),
		ActionID:  actionID,
		SessionID: info.ID,
		UserID:    info.PlayerID,
		Username:  info.Username,
		Updates:   applied,
		Source:    events.SourceServer,
		Timestamp: time.Now(),
	}

	// The enqueue happens on the submitting goroutine so events from the
	// same session reach the publisher in merge-commit order; Publish only
	// buffers, so this stays cheap while subscriber queues have room. The
	// context is detached: caller cancellation past the merge changes nothing.
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.publisher.Publish(ctx, event); err != nil {
		// Out-of-band: state is already committed, so a publish failure
		// is a warning, never an action failure.
		p.metrics.observePublishFailure()
		p.logger.Error(err, "event publish failed", "actionID", actionID, "eventID", event.ID)
	}
}

func (p *Pipeline) finish(o *Outcome) *Outcome {
	p.metrics.observeOutcome(o)
	return o
}

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playmesh-dev/playmesh/go/internal/events"
	"github.com/playmesh-dev/playmesh/go/internal/executor"
	"github.com/playmesh-dev/playmesh/go/internal/session"
	"github.com/playmesh-dev/playmesh/go/internal/state"
)

type fixture struct {
	store     *session.Store
	exec      *executor.StubExecutor
	publisher *events.Publisher
	collector *events.CollectingSubscriber
	pipeline  *Pipeline
	session   session.Info
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := session.NewStore(logr.Discard())
	exec := executor.NewStubExecutor()
	publisher := events.NewPublisher(logr.Discard())
	t.Cleanup(publisher.Close)

	collector := events.NewCollectingSubscriber(16)
	publisher.Subscribe("collector", collector)

	initial := state.NewGameState()
	initial.Set("stats", "health", state.Number(100))
	info := store.Create("player-1", "alice", "device-1", initial)

	return &fixture{
		store:     store,
		exec:      exec,
		publisher: publisher,
		collector: collector,
		pipeline:  New(store, exec, publisher, nil, nil, logr.Discard()),
		session:   info,
	}
}

func (f *fixture) request() ActionRequest {
	return ActionRequest{
		SessionID:  f.session.ID,
		ActionType: "attack",
		Payload:    state.Map(map[string]state.Value{"target": state.String("goblin")}),
	}
}

func (f *fixture) waitForEvent(t *testing.T) events.AttributeUpdateEvent {
	t.Helper()
	select {
	case event := <-f.collector.Events():
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
		return events.AttributeUpdateEvent{}
	}
}

func TestSubmitAppliesAndPublishes(t *testing.T) {
	f := newFixture(t)
	f.exec.Script("attack", &executor.FunctionResult{
		Status: executor.StatusSuccess,
		EntityUpdates: []state.EntityAttributeUpdate{
			{EntityID: "goblin", Category: "stats", Attribute: "health", Value: state.Number(42)},
		},
	})

	outcome := f.pipeline.Submit(context.Background(), f.request())
	require.Equal(t, OutcomeApplied, outcome.Status)
	require.NotEmpty(t, outcome.ActionID)
	require.Len(t, outcome.Applied, 1)
	assert.Empty(t, outcome.Rejected)

	snap, err := f.store.Snapshot(f.session.ID)
	require.NoError(t, err)
	v, ok := snap.Get("stats", "health")
	require.True(t, ok)
	assert.Equal(t, float64(42), v.NumberVal())

	event := f.waitForEvent(t)
	assert.Equal(t, outcome.ActionID, event.ActionID)
	assert.Equal(t, f.session.ID, event.SessionID)
	assert.Equal(t, "player-1", event.UserID)
	assert.Equal(t, events.SourceServer, event.Source)
	assert.Len(t, event.Updates, 1)

	calls := f.exec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "attack", calls[0].ActionType)
	v, ok = calls[0].StateSnapshot.Get("stats", "health")
	require.True(t, ok)
	assert.Equal(t, float64(100), v.NumberVal(), "boundary sees the pre-merge snapshot")
}

func TestSubmitUnknownSessionRejected(t *testing.T) {
	f := newFixture(t)

	req := f.request()
	req.SessionID = "no-such-session"
	outcome := f.pipeline.Submit(context.Background(), req)

	assert.Equal(t, OutcomeRejected, outcome.Status)
	assert.Equal(t, ReasonSessionInvalid, outcome.Reason)
	assert.Empty(t, f.exec.Calls(), "validation failures never reach the boundary")
}

func TestSubmitBadPayloadRejected(t *testing.T) {
	f := newFixture(t)
	f.pipeline.schemas.Register("attack", PayloadSchema{
		Fields: []FieldSpec{{Name: "target", Kind: state.KindString, Required: true}},
	})

	req := f.request()
	req.Payload = state.Map(map[string]state.Value{"target": state.Number(7)})
	outcome := f.pipeline.Submit(context.Background(), req)

	assert.Equal(t, OutcomeRejected, outcome.Status)
	assert.Equal(t, ReasonBadPayload, outcome.Reason)
	assert.Contains(t, outcome.Detail, "target")
	assert.Empty(t, f.exec.Calls())
}

func TestSubmitFunctionFailureRejected(t *testing.T) {
	f := newFixture(t)
	f.exec.Script("attack", &executor.FunctionResult{
		Status:        executor.StatusFailed,
		FailureReason: executor.ReasonTimeout,
	})

	outcome := f.pipeline.Submit(context.Background(), f.request())

	assert.Equal(t, OutcomeRejected, outcome.Status)
	assert.Equal(t, ReasonFunctionFailed, outcome.Reason)
	assert.Equal(t, executor.ReasonTimeout, outcome.Detail)

	// State is untouched.
	snap, err := f.store.Snapshot(f.session.ID)
	require.NoError(t, err)
	v, _ := snap.Get("stats", "health")
	assert.Equal(t, float64(100), v.NumberVal())
}

func TestSubmitPartialSuccessAppliesAcceptedOnly(t *testing.T) {
	f := newFixture(t)
	f.exec.Script("attack", &executor.FunctionResult{
		Status: executor.StatusPartialSuccess,
		EntityUpdates: []state.EntityAttributeUpdate{
			{EntityID: "player:1", Category: "stats", Attribute: "health", Value: state.Number(90)},
			{EntityID: "player:1", Category: "stats", Attribute: "gold", Value: state.Number(-5), Rejected: true, Reason: "insufficient funds"},
		},
	})

	outcome := f.pipeline.Submit(context.Background(), f.request())
	require.Equal(t, OutcomeApplied, outcome.Status)
	require.Len(t, outcome.Applied, 1)
	require.Len(t, outcome.Rejected, 1)
	assert.Equal(t, "insufficient funds", outcome.Rejected[0].Reason)

	snap, err := f.store.Snapshot(f.session.ID)
	require.NoError(t, err)
	v, _ := snap.Get("stats", "health")
	assert.Equal(t, float64(90), v.NumberVal())
	_, ok := snap.Get("stats", "gold")
	assert.False(t, ok, "rejected updates never reach state")

	event := f.waitForEvent(t)
	assert.Len(t, event.Updates, 1, "only applied updates are published")
}

func TestSubmitPendingAppliesNothing(t *testing.T) {
	f := newFixture(t)
	f.exec.Script("attack", &executor.FunctionResult{
		Status: executor.StatusPending,
		EntityUpdates: []state.EntityAttributeUpdate{
			{EntityID: "player:1", Category: "stats", Attribute: "health", Value: state.Number(1)},
		},
	})

	outcome := f.pipeline.Submit(context.Background(), f.request())
	assert.Equal(t, OutcomePending, outcome.Status)
	assert.Empty(t, outcome.Applied)

	snap, err := f.store.Snapshot(f.session.ID)
	require.NoError(t, err)
	v, _ := snap.Get("stats", "health")
	assert.Equal(t, float64(100), v.NumberVal(), "provisional updates are not applied")
}

func TestSubmitUnknownResultStatusRejected(t *testing.T) {
	f := newFixture(t)
	f.exec.Script("attack", &executor.FunctionResult{Status: executor.Status("mystery")})

	outcome := f.pipeline.Submit(context.Background(), f.request())
	assert.Equal(t, OutcomeRejected, outcome.Status)
	assert.Equal(t, ReasonFunctionFailed, outcome.Reason)
	assert.Contains(t, outcome.Detail, "mystery")
}

func TestSubmitSessionRemovedDuringExecutionConflicts(t *testing.T) {
	f := newFixture(t)
	f.exec.ScriptFunc("attack", func(req executor.Request) *executor.FunctionResult {
		// Session disappears while the boundary is evaluating.
		f.store.Remove(f.session.ID)
		return &executor.FunctionResult{
			Status: executor.StatusSuccess,
			EntityUpdates: []state.EntityAttributeUpdate{
				{EntityID: "player:1", Category: "stats", Attribute: "health", Value: state.Number(1)},
			},
		}
	})

	outcome := f.pipeline.Submit(context.Background(), f.request())
	assert.Equal(t, OutcomeRejected, outcome.Status)
	assert.Equal(t, ReasonSessionExpired, outcome.Reason)
}

func TestSubmitSameSessionEventsObservedInSubmissionOrder(t *testing.T) {
	f := newFixture(t)
	f.exec.Script("attack", &executor.FunctionResult{
		Status: executor.StatusSuccess,
		EntityUpdates: []state.EntityAttributeUpdate{
			{EntityID: "player:1", Category: "stats", Attribute: "health", Value: state.Number(1)},
		},
	})

	const n = 50
	actionIDs := make([]string, 0, n)
	for i := 0; i < n; i++ {
		outcome := f.pipeline.Submit(context.Background(), f.request())
		require.Equal(t, OutcomeApplied, outcome.Status)
		actionIDs = append(actionIDs, outcome.ActionID)
	}

	for i := 0; i < n; i++ {
		event := f.waitForEvent(t)
		assert.Equal(t, actionIDs[i], event.ActionID, "event %d out of submission order", i)
	}
}

func TestSubmitZeroUpdateSuccessStillPublishes(t *testing.T) {
	f := newFixture(t)
	f.exec.Script("attack", &executor.FunctionResult{Status: executor.StatusSuccess})

	outcome := f.pipeline.Submit(context.Background(), f.request())
	require.Equal(t, OutcomeApplied, outcome.Status)

	event := f.waitForEvent(t)
	assert.Equal(t, outcome.ActionID, event.ActionID)
	assert.Empty(t, event.Updates)
}

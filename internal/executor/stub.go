package executor

import (
	"context"
	"sync"
)

// StubExecutor is a deterministic in-process Executor. Results are scripted
// per action type; unscripted action types fail with a rejection. It stands
// in for the networked boundary in tests and local development.
type StubExecutor struct {
	mu      sync.Mutex
	results map[string]*FunctionResult
	funcs   map[string]func(req Request) *FunctionResult
	calls   []Request
}

// NewStubExecutor creates an empty stub.
func NewStubExecutor() *StubExecutor {
	return &StubExecutor{
		results: make(map[string]*FunctionResult),
		funcs:   make(map[string]func(req Request) *FunctionResult),
	}
}

// Script registers the result returned for the given action type.
func (s *StubExecutor) Script(actionType string, result *FunctionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[actionType] = result
}

// ScriptFunc registers a callback computing the result for the given action
// type. It takes precedence over Script.
func (s *StubExecutor) ScriptFunc(actionType string, f func(req Request) *FunctionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funcs[actionType] = f
}

// Execute returns the scripted result, stamped with the request's action id.
func (s *StubExecutor) Execute(ctx context.Context, req Request) (*FunctionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.calls = append(s.calls, req)
	f, hasFunc := s.funcs[req.ActionType]
	s.mu.Unlock()

	if hasFunc {
		result := f(req)
		result.ID = req.ID
		return result, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	scripted, ok := s.results[req.ActionType]
	if !ok {
		return &FunctionResult{
			ID:            req.ID,
			Status:        StatusFailed,
			FailureReason: ReasonRejected,
		}, nil
	}

	result := *scripted
	result.ID = req.ID
	return &result, nil
}

// Calls returns a copy of the requests seen so far.
func (s *StubExecutor) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.calls))
	copy(out, s.calls)
	return out
}

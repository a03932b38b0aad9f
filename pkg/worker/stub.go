package worker

import (
	"context"
	"fmt"
	"sync"
)

// StubSession is the in-process stand-in for a browser, used in stub worker
// mode and tests. Responses are deterministic functions of the input.
type StubSession struct {
	mu     sync.Mutex
	closed bool

	// FailProbes makes every health probe fail, simulating a dead browser.
	FailProbes bool

	// FailCalls makes every tool call fail with the given error.
	FailCalls error

	// Navigations counts Navigate calls, observable in tests.
	Navigations int

	// Resets counts Reset calls.
	Resets int
}

// NewStubSession creates a healthy stub.
func NewStubSession(_ context.Context) (Session, error) {
	return &StubSession{}, nil
}

func (s *StubSession) Navigate(_ context.Context, url string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCalls != nil {
		return "", s.FailCalls
	}
	s.Navigations++
	return "Stub page: " + url, nil
}

func (s *StubSession) Extract(_ context.Context, url, selector string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCalls != nil {
		return "", s.FailCalls
	}
	return fmt.Sprintf("stub text for %s at %s", selector, url), nil
}

func (s *StubSession) Screenshot(_ context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCalls != nil {
		return nil, s.FailCalls
	}
	return []byte("stub-png:" + url), nil
}

func (s *StubSession) Submit(_ context.Context, _ string, _ map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FailCalls
}

func (s *StubSession) Probe(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session closed")
	}
	if s.FailProbes {
		return fmt.Errorf("stub probe failure")
	}
	return nil
}

func (s *StubSession) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Resets++
	return nil
}

func (s *StubSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

package extract

import (
	"context"
	"sync"

	"github.com/mokuren/passbook-flow/internal/model"
)

// MockExtractor is a deterministic in-memory extraction leg used in
// tests and offline dry runs.
type MockExtractor struct {
	mu        sync.Mutex
	name      string
	candidate *model.ExtractionCandidate
	err       error
	requests  []Request
}

// NewMockExtractor creates a mock leg. An empty name defaults to
// "mock".
func NewMockExtractor(name string) *MockExtractor {
	if name == "" {
		name = "mock"
	}
	return &MockExtractor{name: name}
}

// Respond sets the candidate returned by subsequent Extract calls.
func (m *MockExtractor) Respond(candidate *model.ExtractionCandidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidate = candidate
	m.err = nil
}

// Fail makes subsequent Extract calls return err.
func (m *MockExtractor) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Extract returns the configured candidate with the request's role
// stamped on a copy.
func (m *MockExtractor) Extract(ctx context.Context, req Request) (*model.ExtractionCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	if m.err != nil {
		return nil, m.err
	}
	if m.candidate == nil {
		return &model.ExtractionCandidate{Role: req.Role, Provider: m.name}, nil
	}

	out := *m.candidate
	out.Role = req.Role
	out.Provider = m.name
	out.Transactions = append([]model.CandidateTransaction(nil), m.candidate.Transactions...)
	return &out, nil
}

// Provider returns the mock's name.
func (m *MockExtractor) Provider() string {
	return m.name
}

// Requests returns a copy of all recorded requests.
func (m *MockExtractor) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

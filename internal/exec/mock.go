package exec

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// MockRunner is a Runner for tests. Responses are keyed by the command name
// plus arguments joined with spaces; unmatched commands return an error.
type MockRunner struct {
	mu        sync.Mutex
	responses map[string][]byte
	errs      map[string]error
	Calls     []string
}

// NewMockRunner creates an empty mock runner.
func NewMockRunner() *MockRunner {
	return &MockRunner{
		responses: make(map[string][]byte),
		errs:      make(map[string]error),
	}
}

// Respond registers output for a command line.
func (m *MockRunner) Respond(cmdline string, output []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[cmdline] = output
}

// Fail registers an error for a command line.
func (m *MockRunner) Fail(cmdline string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[cmdline] = err
}

func (m *MockRunner) run(name string, args ...string) ([]byte, error) {
	key := strings.Join(append([]string{name}, args...), " ")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, key)
	if err, ok := m.errs[key]; ok {
		return nil, err
	}
	if out, ok := m.responses[key]; ok {
		return out, nil
	}
	return nil, fmt.Errorf("mock runner: no response for %q", key)
}

// Run implements Runner.
func (m *MockRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	return m.run(name, args...)
}

// RunInDir implements Runner.
func (m *MockRunner) RunInDir(_ context.Context, _ string, name string, args ...string) ([]byte, error) {
	return m.run(name, args...)
}

// RunWithStdin implements Runner.
func (m *MockRunner) RunWithStdin(_ context.Context, _ io.Reader, name string, args ...string) ([]byte, error) {
	return m.run(name, args...)
}

// Package mockjail implements jail.Runner without requiring root or a
// real jail(8), directly mirroring the teacher's
// environment.MockEnvironment pattern (call recording + configurable
// results/errors) so the task package is unit testable. The job
// runner starts real jails through jail.Start and does not use it.
package mockjail

import (
	"context"
	"io"
	"sync"
	"time"

	"reprise/internal/execx"
	"reprise/internal/jail"
)

// Call records one Execute/ExecuteStreaming invocation.
type Call struct {
	User    jail.User
	Program string
	Args    []string
}

// Sandbox is a configurable mock of jail.Sandbox.
type Sandbox struct {
	mu sync.Mutex

	// Result/Err used by Execute calls not matched in Responses.
	DefaultResult *execx.Result
	DefaultErr    error

	// Responses maps "program arg0 arg1..." to a canned result, so
	// tests can script a sequence of make invocations.
	Responses map[string]*execx.Result
	Errors    map[string]error

	StreamExitCode int
	StreamErr      error

	DestroyErr error
	Running    bool

	Calls []Call
}

// New returns a Sandbox defaulting to success for every call.
func New() *Sandbox {
	return &Sandbox{
		DefaultResult: &execx.Result{ExitCode: 0},
		Responses:     make(map[string]*execx.Result),
		Errors:        make(map[string]error),
		Running:       true,
	}
}

func key(program string, args []string) string {
	s := program
	for _, a := range args {
		s += " " + a
	}
	return s
}

func (s *Sandbox) Execute(ctx context.Context, user jail.User, timeout time.Duration, program string, args ...string) (*execx.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, Call{User: user, Program: program, Args: args})

	k := key(program, args)
	if err, ok := s.Errors[k]; ok {
		return nil, err
	}
	if res, ok := s.Responses[k]; ok {
		return res, nil
	}
	return s.DefaultResult, s.DefaultErr
}

func (s *Sandbox) ExecuteStreaming(ctx context.Context, user jail.User, timeout time.Duration, sink io.Writer, program string, args ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, Call{User: user, Program: program, Args: args})
	if sink != nil {
		io.WriteString(sink, "mockjail: "+key(program, args)+"\n")
	}
	return s.StreamExitCode, s.StreamErr
}

func (s *Sandbox) IsRunning(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Running
}

func (s *Sandbox) Destroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Running = false
	return s.DestroyErr
}

var _ jail.Runner = (*Sandbox)(nil)

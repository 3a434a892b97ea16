// Package fakerunner provides a scripted execx.Runner for tests.
package fakerunner

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Runner answers commands from scripted responses and records every call.
// Unit watchers collect diagnostics from their own goroutines, so it is safe
// for concurrent use.
type Runner struct {
	mu        sync.Mutex
	responses map[string]*response
	calls     []Call
}

type response struct {
	output []byte
	err    error
}

// Call is one recorded invocation.
type Call struct {
	Name string
	Args []string
}

// String renders the call as a command line.
func (c Call) String() string {
	return commandLine(c.Name, c.Args)
}

// New returns a Runner with no scripted responses.
func New() *Runner {
	return &Runner{responses: make(map[string]*response)}
}

func (r *Runner) responseLocked(name string, args []string) *response {
	key := commandLine(name, args)
	resp, ok := r.responses[key]
	if !ok {
		resp = &response{}
		r.responses[key] = resp
	}
	return resp
}

// SetOutput scripts the output of one command line.
func (r *Runner) SetOutput(name string, args []string, output []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responseLocked(name, args).output = output
}

// SetError scripts the error of one command line. Output set with SetOutput
// is still returned alongside it.
func (r *Runner) SetError(name string, args []string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responseLocked(name, args).err = err
}

// CombinedOutput implements execx.Runner. Unscripted commands succeed with
// empty output.
func (r *Runner) CombinedOutput(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, Call{Name: name, Args: slices.Clone(args)})
	if resp, ok := r.responses[commandLine(name, args)]; ok {
		return resp.output, resp.err
	}
	return []byte{}, nil
}

// GetCalls returns the recorded calls in order.
func (r *Runner) GetCalls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

func commandLine(name string, args []string) string {
	return strings.Join(append([]string{name}, args...), " ")
}

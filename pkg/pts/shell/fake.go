package shell

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// Handler produces the outcome of a faked command.
type Handler func(ctx context.Context, cmd Command) (*Result, error)

// Fake is an in-memory Executor for tests. Handlers are matched on the base
// name of the program and, optionally, its first argument.
type Fake struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Command
}

var _ Executor = (*Fake)(nil)

// NewFake returns a Fake with no handlers; unmatched commands fail.
func NewFake() *Fake {
	return &Fake{handlers: make(map[string]Handler)}
}

// On registers h for program name (base name) and first argument sub.
// An empty sub matches any arguments that have no more specific handler.
func (f *Fake) On(name, sub string, h Handler) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[key(name, sub)] = h
	return f
}

// Stdout registers a handler that always prints out.
func (f *Fake) Stdout(name, sub, out string) *Fake {
	return f.On(name, sub, func(_ context.Context, c Command) (*Result, error) {
		return &Result{Argv: append([]string{c.Name}, c.Args...), Stdout: []byte(out)}, nil
	})
}

// Run implements Executor.
func (f *Fake) Run(ctx context.Context, c Command) (*Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	name := filepath.Base(c.Name)
	h, ok := f.handlers[key(name, first(c.Args))]
	if !ok {
		h, ok = f.handlers[key(name, "")]
	}
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &CommandError{Argv: append([]string{c.Name}, c.Args...), Err: err}
	}
	if !ok {
		return nil, &CommandError{
			Argv: append([]string{c.Name}, c.Args...),
			Err:  fmt.Errorf("no fake registered for %s %s", name, first(c.Args)),
		}
	}
	return h(ctx, c)
}

// Calls returns every command run so far.
func (f *Fake) Calls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Command, len(f.calls))
	copy(out, f.calls)
	return out
}

// Count returns how many calls matched name and, if non-empty, sub.
func (f *Fake) Count(name, sub string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if filepath.Base(c.Name) != name {
			continue
		}
		if sub != "" && first(c.Args) != sub {
			continue
		}
		n++
	}
	return n
}

// ArgValue returns the value of a --flag=value argument, or "".
func ArgValue(args []string, flag string) string {
	prefix := flag + "="
	for _, a := range args {
		if strings.HasPrefix(a, prefix) {
			return strings.TrimPrefix(a, prefix)
		}
	}
	return ""
}

func key(name, sub string) string {
	return name + "\x00" + sub
}

func first(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

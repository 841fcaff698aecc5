// Package tasktree executes an immutable tree of steps. Each node is gated by
// predicates over a caller-supplied view value, which is re-read right before
// the node starts, and children run serially or concurrently up to a limit.
// The executor knows nothing about what the steps do; an Observer reports
// progress.
package tasktree

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// RunFunc performs a leaf step. The returned output is passed to the Observer
// whether the step fails or not.
type RunFunc func(ctx context.Context) (output string, err error)

// Node is one step of the tree. A node has either Run or Children; a node with
// neither completes immediately.
type Node[V any] struct {
	Title string
	// Enabled hides the node entirely when it returns false. Nil means enabled.
	Enabled func(V) bool
	// Skip returns a non-empty reason to skip the node. Nil means never skip.
	Skip     func(V) string
	Run      RunFunc
	Children []*Node[V]
	// Concurrency bounds how many children run at once: 0 is unbounded,
	// 1 is serial.
	Concurrency int
	// ExitOnError stops starting further children once one has failed.
	// Children already running finish.
	ExitOnError bool
}

// Status is the lifecycle position of a node in an Event.
type Status int

const (
	Started Status = iota
	Completed
	Skipped
	Failed
)

func (s Status) String() string {
	switch s {
	case Started:
		return "STARTED"
	case Completed:
		return "COMPLETED"
	case Skipped:
		return "SKIPPED"
	case Failed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// Event reports a node state change.
type Event struct {
	Title  string
	Depth  int // 0 for the root's children
	Leaf   bool
	Status Status
	Reason string // skip reason
	Output string // output of a finished leaf
	Err    error
}

// Observer receives events. Events of concurrently running nodes interleave,
// so implementations must be safe for concurrent use.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

type nopObserver struct{}

func (nopObserver) Observe(Event) {}

// Executor runs trees whose predicates read values of type V.
type Executor[V any] struct {
	// View returns the value predicates are evaluated against. It is called
	// immediately before each node starts.
	View     func() V
	Observer Observer
}

// Run executes root's children as the top level of the tree and returns a
// joined error of every failed top-level node. The root itself is not
// reported. ctx is passed to every RunFunc and is never cancelled by the
// executor.
func (e *Executor[V]) Run(ctx context.Context, root *Node[V]) error {
	if e.Observer == nil {
		e.Observer = nopObserver{}
	}
	return e.runChildren(ctx, root, 0)
}

func (e *Executor[V]) view() V {
	if e.View == nil {
		var zero V
		return zero
	}
	return e.View()
}

// runNode runs n and reports it. A disabled or skipped node returns nil.
func (e *Executor[V]) runNode(ctx context.Context, n *Node[V], depth int) error {
	v := e.view()
	if n.Enabled != nil && !n.Enabled(v) {
		return nil
	}
	leaf := len(n.Children) == 0
	if n.Skip != nil {
		if reason := n.Skip(v); reason != "" {
			e.Observer.Observe(Event{Title: n.Title, Depth: depth, Leaf: leaf, Status: Skipped, Reason: reason})
			return nil
		}
	}
	e.Observer.Observe(Event{Title: n.Title, Depth: depth, Leaf: leaf, Status: Started})

	var (
		output string
		err    error
	)
	if leaf {
		if n.Run != nil {
			output, err = n.Run(ctx)
		}
	} else {
		err = e.runChildren(ctx, n, depth+1)
	}

	if err != nil {
		e.Observer.Observe(Event{Title: n.Title, Depth: depth, Leaf: leaf, Status: Failed, Output: output, Err: err})
		return err
	}
	e.Observer.Observe(Event{Title: n.Title, Depth: depth, Leaf: leaf, Status: Completed, Output: output})
	return nil
}

func (e *Executor[V]) runChildren(ctx context.Context, n *Node[V], depth int) error {
	if len(n.Children) == 0 {
		return nil
	}
	errs := make([]error, len(n.Children))
	var stop atomic.Bool

	// No errgroup context: a failure must not cancel commands already running.
	var g errgroup.Group
	if n.Concurrency > 0 {
		g.SetLimit(n.Concurrency)
	}
	for i, child := range n.Children {
		if n.ExitOnError && stop.Load() {
			break
		}
		g.Go(func() error {
			if n.ExitOnError && stop.Load() {
				return nil
			}
			if err := e.runNode(ctx, child, depth); err != nil {
				errs[i] = err
				stop.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

package anchor

import (
	"context"
)

// AbilityFunc is an entry or exit callback. here is the architype the ability
// is declared on, other the party it meets. A returned Future is awaited by
// the traversal driver before its value is recorded.
type AbilityFunc func(ctx context.Context, ec *ExecContext, here, other Architype) (any, error)

// Ability is a callback attached to a node or walker type. Trigger lists the
// registered type names of the other party it fires for; empty fires for any.
type Ability struct {
	Name    string
	Trigger []string
	Func    AbilityFunc
}

func (a Ability) matches(otherName string) bool {
	if len(a.Trigger) == 0 {
		return true
	}
	for _, t := range a.Trigger {
		if t == otherName {
			return true
		}
	}
	return false
}

// Future is a suspended computation returned by an ability.
type Future interface {
	Await(ctx context.Context) (any, error)
}

type future struct {
	done  chan struct{}
	value any
	err   error
}

// Async runs fn on its own goroutine and returns its Future.
func Async(ctx context.Context, fn func(ctx context.Context) (any, error)) Future {
	f := &future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.value, f.err = fn(ctx)
	}()
	return f
}

func (f *future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve joins v if it is a Future.
func resolve(ctx context.Context, v any) (any, error) {
	if f, ok := v.(Future); ok {
		return f.Await(ctx)
	}
	return v, nil
}

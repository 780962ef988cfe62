// Package execctx carries the execution context for core operations: the
// business date and the acting user. Operations receive it explicitly instead
// of reading wall clock or session state, which keeps the engine deterministic
// under test and makes backdated batch runs possible.
package execctx

import (
	"context"
	"time"
)

// Exec is the explicit execution context threaded through core operations.
type Exec struct {
	// Today is the business date the operation runs under (UTC, midnight).
	Today time.Time

	// ActorID identifies the acting user or system job.
	ActorID string

	// Now is the instant used for timestamps; defaults to time.Now when zero.
	Now time.Time
}

// New builds an Exec for the given business date and actor, stamping Now.
func New(today time.Time, actorID string) Exec {
	return Exec{
		Today:   today.UTC().Truncate(24 * time.Hour),
		ActorID: actorID,
		Now:     time.Now().UTC(),
	}
}

// Timestamp returns the instant to use for created/updated fields.
func (e Exec) Timestamp() time.Time {
	if e.Now.IsZero() {
		return time.Now().UTC()
	}
	return e.Now
}

type execKey struct{}

// With stores the execution context in ctx (HTTP middleware and the worker do
// this once per request/tick).
func With(ctx context.Context, e Exec) context.Context {
	return context.WithValue(ctx, execKey{}, e)
}

// From returns the execution context from ctx. The fallback uses the current
// UTC date and the system actor; handlers that care about the actor must set
// one explicitly.
func From(ctx context.Context) Exec {
	if e, ok := ctx.Value(execKey{}).(Exec); ok {
		return e
	}
	return New(time.Now().UTC(), "system")
}

package services

import (
	"context"
	"errors"
	"time"

	"storefront/internal/cache"
	"storefront/internal/guard"
	"storefront/internal/mutation"
	"storefront/internal/notify"
	"storefront/internal/telemetry"
	"storefront/internal/transport"
)

// GenericFailure is shown when a failed request carries no message of its own.
const GenericFailure = "Something went wrong. Please try again."

var ErrNoCart = errors.New("no cart for this session")

// Env is the per-session context the resource services share.
type Env struct {
	Store     *cache.Store
	Notify    notify.Notifier
	Telemetry telemetry.Emitter
	// Observer defaults to telemetry.Observer(Telemetry).
	Observer mutation.Observer
	// TempIDs and Now are replaced in tests.
	TempIDs func() string
	Now     func() time.Time
	// Guards, when set, is shared by every Env of one session.
	Guards *guard.Set
}

func (e Env) withDefaults() Env {
	if e.Notify == nil {
		e.Notify = notify.Discard
	}
	if e.Telemetry == nil {
		e.Telemetry = telemetry.Nop{}
	}
	if e.Observer == nil {
		e.Observer = telemetry.Observer(e.Telemetry)
	}
	if e.Now == nil {
		e.Now = time.Now
	}
	return e
}

func (e Env) options() []mutation.Option {
	opts := []mutation.Option{mutation.WithObserver(e.Observer)}
	if e.TempIDs != nil {
		opts = append(opts, mutation.WithTempIDs(e.TempIDs))
	}
	return opts
}

func (e Env) now() time.Time { return e.Now().UTC() }

// newMutation builds a mutation family. Its guard registry comes from
// e.Guards when set, otherwise it gets its own.
func newMutation[V, R any](e Env, name string, f mutation.Funcs[V, R]) *mutation.Mutation[V, R] {
	g := guard.New(name)
	if e.Guards != nil {
		g = e.Guards.For(name)
	}
	return mutation.New(name, e.Store, g, f.Adapter(), e.options()...)
}

func (e Env) success(id, title, desc string) {
	e.Notify.Notify(notify.Toast{ID: id, Title: title, Description: desc, Variant: notify.Success})
}

// failure shows the server's message for rejected requests; anything else
// gets the generic text.
func (e Env) failure(ctx context.Context, id, title string, err error, fields map[string]any) {
	desc := transport.UserMessage(err)
	if desc == "" {
		desc = GenericFailure
	}
	e.Notify.Notify(notify.Toast{ID: id, Title: title, Description: desc, Variant: notify.Destructive})
	e.Telemetry.Exception(ctx, err, fields)
}

// Dropped reports whether err is a duplicate of an in-flight mutation.
func Dropped(err error) bool { return errors.Is(err, mutation.ErrInProgress) }

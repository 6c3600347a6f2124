// Package dispatch routes interactions to the commands and component handlers
// declared by modules.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"

	"github.com/priyxstudio/kiwi/modules"
	"github.com/priyxstudio/kiwi/platform"
)

const (
	ErrAlreadyLoaded    = errors.Sentinel("command is already loaded")
	ErrNotLoaded        = errors.Sentinel("command is not loaded")
	ErrDuplicateHandler = errors.Sentinel("component handler is already registered")
	ErrUnknownHandler   = errors.Sentinel("no component handler registered for key")
	ErrUnknownCommand   = errors.Sentinel("no command registered for name")
	ErrNotPermitted     = errors.Sentinel("member is not permitted to run this")
)

const (
	// NotPermittedMessage is sent when the permission check denies an action.
	NotPermittedMessage = "You do not have permission to do that."
	// FailureMessage is sent when a handler fails or panics.
	FailureMessage = "Something went wrong while handling this interaction."
)

type options struct {
	metrics  *Metrics
	workers  int
	timeout  time.Duration
	autoSync bool
}

// Option configures a router.
type Option func(o *options)

// WithMetrics records dispatch outcomes in the given collectors.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithRegistrationWorkers sets how many command listing replacements may run
// against the platform at once.
func WithRegistrationWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithRegistrationTimeout bounds a single listing replacement call.
func WithRegistrationTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithoutAutoSync keeps loads local. Listings are only pushed by Sync.
func WithoutAutoSync() Option {
	return func(o *options) {
		o.autoSync = false
	}
}

func newOptions(opts []Option) options {
	o := options{workers: 2, timeout: 30 * time.Second, autoSync: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// call runs a handler stage and turns a panic into an error.
func call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WithDetails(errors.Errorf("panic: %v", r), "stack", string(debug.Stack()))
		}
	}()
	return fn()
}

// reply sends a best-effort ephemeral message to the invoking user.
func reply(ctx context.Context, rt modules.Runtime, logger log.Interface, i *platform.Interaction, content string) {
	p := rt.Platform()
	if p == nil {
		return
	}
	if err := p.Reply(ctx, i, platform.Response{Content: content, Ephemeral: true}); err != nil {
		logger.WithError(err).Warn("failed to send interaction reply")
	}
}

func interactionFields(i *platform.Interaction) log.Fields {
	return log.Fields{
		"interaction_id": i.ID,
		"guild_id":       i.GuildID,
		"user_id":        i.UserID,
		"kind":           fmt.Sprint(i.Kind),
	}
}

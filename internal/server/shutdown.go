package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// ShutdownHooks releases the process's resources when the server stops. Hooks
// run in reverse order of registration, so a resource is released before the
// resources it was built on. A failing or panicking hook does not prevent the
// remaining hooks from running.
type ShutdownHooks struct {
	hooks []hook
}

// AddContext registers a hook that is given the shutdown context, which
// carries the shutdown deadline. Nil hooks are ignored.
func (s *ShutdownHooks) AddContext(name string, fn func(context.Context) error) {
	if fn == nil {
		log.Warn().Str("hook", name).Msg("ignoring nil shutdown hook")
		return
	}

	log.Debug().Str("hook", name).Msg("shutdown hook registered")
	s.hooks = append(s.hooks, hook{name: name, fn: fn})
}

// AddFunc registers a hook that cannot fail, such as a Stop or Shutdown
// method without results.
func (s *ShutdownHooks) AddFunc(name string, fn func()) {
	if fn == nil {
		log.Warn().Str("hook", name).Msg("ignoring nil shutdown hook")
		return
	}

	s.AddContext(name, func(context.Context) error {
		fn()
		return nil
	})
}

// Len reports the number of registered hooks.
func (s *ShutdownHooks) Len() int {
	return len(s.hooks)
}

// Execute runs every hook, most recently registered first, and returns the
// joined failures.
func (s *ShutdownHooks) Execute(ctx context.Context) error {
	var errs []error

	for i := len(s.hooks) - 1; i >= 0; i-- {
		h := s.hooks[i]
		hookLog := log.Ctx(ctx).With().Str("hook", h.name).Logger()

		hookLog.Info().Msg("shutdown started")
		if err := run(ctx, h); err != nil {
			hookLog.Warn().Err(err).Msg("shutdown failed")
			errs = append(errs, err)
			continue
		}
		hookLog.Info().Msg("shutdown complete")
	}

	return errors.Join(errs...)
}

func run(ctx context.Context, h hook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", h.name, r)
		}
	}()

	if err := h.fn(ctx); err != nil {
		return fmt.Errorf("%s: %w", h.name, err)
	}
	return nil
}

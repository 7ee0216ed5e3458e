package appointment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ConfirmationHook is notified after an appointment becomes CONFIRMED.
// Chat channels, video rooms and calendar sync plug in here.
type ConfirmationHook interface {
	Name() string
	OnConfirmed(ctx context.Context, a Appointment) error
}

// CancellationHook is notified after an appointment becomes CANCELLED,
// by either party or by expiry. previous is the status it was cancelled
// from, so hooks can skip requests that never reached CONFIRMED.
type CancellationHook interface {
	Name() string
	OnCancelled(ctx context.Context, a Appointment, previous AppointmentStatus) error
}

type hookFunc struct {
	name string
	fn   func(ctx context.Context, a Appointment) error
}

// HookFunc adapts a function to ConfirmationHook.
func HookFunc(name string, fn func(ctx context.Context, a Appointment) error) ConfirmationHook {
	return hookFunc{name: name, fn: fn}
}

func (h hookFunc) Name() string { return h.name }

func (h hookFunc) OnConfirmed(ctx context.Context, a Appointment) error { return h.fn(ctx, a) }

type cancelHookFunc struct {
	name string
	fn   func(ctx context.Context, a Appointment, previous AppointmentStatus) error
}

// CancelHookFunc adapts a function to CancellationHook.
func CancelHookFunc(name string, fn func(ctx context.Context, a Appointment, previous AppointmentStatus) error) CancellationHook {
	return cancelHookFunc{name: name, fn: fn}
}

func (h cancelHookFunc) Name() string { return h.name }

func (h cancelHookFunc) OnCancelled(ctx context.Context, a Appointment, previous AppointmentStatus) error {
	return h.fn(ctx, a, previous)
}

// AddConfirmationHook registers h. Not safe to call concurrently with Accept.
func (s *Service) AddConfirmationHook(h ConfirmationHook) {
	s.hooks = append(s.hooks, h)
}

// AddCancellationHook registers h. Not safe to call concurrently with Cancel
// or ExpireStalePending.
func (s *Service) AddCancellationHook(h CancellationHook) {
	s.cancelHooks = append(s.cancelHooks, h)
}

// WaitHooks blocks until every dispatched hook has returned.
func (s *Service) WaitHooks() {
	s.hookWG.Wait()
}

type hookCall struct {
	name string
	run  func(ctx context.Context) error
}

func (s *Service) dispatchConfirmed(ctx context.Context, a Appointment) {
	calls := make([]hookCall, 0, len(s.hooks))
	for _, h := range s.hooks {
		calls = append(calls, hookCall{
			name: h.Name(),
			run:  func(ctx context.Context) error { return h.OnConfirmed(ctx, a) },
		})
	}
	s.dispatch(ctx, "confirmation", a, calls)
}

func (s *Service) dispatchCancelled(ctx context.Context, a Appointment, previous AppointmentStatus) {
	calls := make([]hookCall, 0, len(s.cancelHooks))
	for _, h := range s.cancelHooks {
		calls = append(calls, hookCall{
			name: h.Name(),
			run:  func(ctx context.Context) error { return h.OnCancelled(ctx, a, previous) },
		})
	}
	s.dispatch(ctx, "cancellation", a, calls)
}

// dispatch starts every hook in its own goroutine. Hooks outlive the
// request that triggered them but are bounded by HookTimeout.
func (s *Service) dispatch(ctx context.Context, kind string, a Appointment, calls []hookCall) {
	base := context.WithoutCancel(ctx)
	for _, c := range calls {
		s.hookWG.Add(1)
		go func(c hookCall) {
			defer s.hookWG.Done()

			hookCtx, cancel := context.WithTimeout(base, s.hookTimeout())
			defer cancel()

			start := time.Now()
			if err := runHook(hookCtx, c); err != nil {
				s.log.Warn(kind+" hook failed",
					zap.String("hook", c.name),
					zap.String("appointment_id", a.ID.String()),
					zap.Duration("elapsed", time.Since(start)),
					zap.Error(err),
				)
				return
			}
			s.log.Debug(kind+" hook done",
				zap.String("hook", c.name),
				zap.String("appointment_id", a.ID.String()),
				zap.Duration("elapsed", time.Since(start)),
			)
		}(c)
	}
}

func runHook(ctx context.Context, c hookCall) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return c.run(ctx)
}

func (s *Service) hookTimeout() time.Duration {
	if s.cfg.HookTimeout > 0 {
		return s.cfg.HookTimeout
	}
	return 15 * time.Second
}

// Copyright 2025 James Ross

// Package effect provides Effect[R, E, A], a deferred, cancellable
// description of a computation that depends on an environment R and
// yields a result.Result[E, A] when run.
package effect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/flyingrobots/djed/internal/result"
)

// ErrTimeout is a ready-made error for the onTimeout callback of Timeout
// when E is error; Timeout itself returns whatever onTimeout builds.
var ErrTimeout = errors.New("effect: timed out")

// ErrCancelled is a ready-made error for reporting context cancellation
// when E is error; Run itself reports an already-cancelled context as
// the zero value of E.
var ErrCancelled = errors.New("effect: cancelled")

// thunk is the underlying computation. It must observe ctx.Done() at
// every suspension point it introduces.
type thunk[R, E, A any] func(ctx context.Context, env R) result.Result[E, A]

// Effect is a pure description of a computation; nothing runs until Run
// is called.
type Effect[R, E, A any] struct {
	run thunk[R, E, A]
}

// Succeed builds an Effect that always succeeds with value.
func Succeed[R, E, A any](value A) Effect[R, E, A] {
	return Effect[R, E, A]{run: func(ctx context.Context, env R) result.Result[E, A] {
		return result.Ok[E, A](value)
	}}
}

// Fail builds an Effect that always fails with err.
func Fail[R, E, A any](err E) Effect[R, E, A] {
	return Effect[R, E, A]{run: func(ctx context.Context, env R) result.Result[E, A] {
		return result.Err[E, A](err)
	}}
}

// FromAsync lifts a plain function of (ctx, env) into an Effect. f is
// responsible for checking ctx.Done() if it can block.
func FromAsync[R, E, A any](f func(ctx context.Context, env R) (A, E, bool)) Effect[R, E, A] {
	return Effect[R, E, A]{run: func(ctx context.Context, env R) result.Result[E, A] {
		a, e, ok := f(ctx, env)
		if ok {
			return result.Ok[E, A](a)
		}
		return result.Err[E, A](e)
	}}
}

// Run executes the effect, recovering any panic into a Result rather
// than letting it propagate. A recovered panic is reported as the zero
// value of E; callers that need the panic payload should recover inside
// their own thunk and fold it into a proper E themselves.
func (e Effect[R, E, A]) Run(ctx context.Context, env R) (res result.Result[E, A]) {
	defer func() {
		if p := recover(); p != nil {
			var zero E
			res = result.Err[E, A](zero)
		}
	}()
	if ctx.Err() != nil {
		var zero E
		return result.Err[E, A](zero)
	}
	return e.run(ctx, env)
}

// Map transforms a successful value.
func Map[R, E, A, B any](e Effect[R, E, A], f func(A) B) Effect[R, E, B] {
	return Effect[R, E, B]{run: func(ctx context.Context, env R) result.Result[E, B] {
		return result.Map(e.run(ctx, env), f)
	}}
}

// FlatMap sequences a dependent effect.
func FlatMap[R, E, A, B any](e Effect[R, E, A], f func(A) Effect[R, E, B]) Effect[R, E, B] {
	return Effect[R, E, B]{run: func(ctx context.Context, env R) result.Result[E, B] {
		r := e.run(ctx, env)
		v, ok := r.Get()
		if !ok {
			errVal, _ := r.GetErr()
			return result.Err[E, B](errVal)
		}
		return f(v).run(ctx, env)
	}}
}

// Zip runs two effects sequentially and pairs their results.
func Zip[R, E, A, B any](ea Effect[R, E, A], eb Effect[R, E, B]) Effect[R, E, struct {
	A A
	B B
}] {
	type pair = struct {
		A A
		B B
	}
	return Effect[R, E, pair]{run: func(ctx context.Context, env R) result.Result[E, pair] {
		ra := ea.run(ctx, env)
		av, ok := ra.Get()
		if !ok {
			errVal, _ := ra.GetErr()
			return result.Err[E, pair](errVal)
		}
		rb := eb.run(ctx, env)
		bv, ok := rb.Get()
		if !ok {
			errVal, _ := rb.GetErr()
			return result.Err[E, pair](errVal)
		}
		return result.Ok[E, pair](pair{A: av, B: bv})
	}}
}

// Provide binds a fixed environment, yielding an effect independent of R.
func Provide[R, E, A any](e Effect[R, E, A], env R) Effect[struct{}, E, A] {
	return Effect[struct{}, E, A]{run: func(ctx context.Context, _ struct{}) result.Result[E, A] {
		return e.run(ctx, env)
	}}
}

// Timeout bounds e to at most d; on expiry, onTimeout builds the error
// value returned in place of a result.
func Timeout[R, E, A any](e Effect[R, E, A], d time.Duration, onTimeout func() E) Effect[R, E, A] {
	return Effect[R, E, A]{run: func(ctx context.Context, env R) result.Result[E, A] {
		cctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		type outcome struct {
			res result.Result[E, A]
		}
		ch := make(chan outcome, 1)
		go func() {
			ch <- outcome{res: e.run(cctx, env)}
		}()

		select {
		case o := <-ch:
			return o.res
		case <-cctx.Done():
			return result.Err[E, A](onTimeout())
		}
	}}
}

// RetryPolicy describes how Retry schedules further attempts.
type RetryPolicy struct {
	MaxAttempts int
	Delay       func(attempt int) time.Duration
	ShouldRetry func(attempt int) bool
}

// FixedRetry runs the effect at most maxAttempts times in total, the first
// run included, sleeping delay between runs.
func FixedRetry(maxAttempts int, delay time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Delay:       func(attempt int) time.Duration { return delay },
		ShouldRetry: func(attempt int) bool { return attempt < maxAttempts },
	}
}

// ExponentialRetry retries with exponential backoff bounded by maxDelay.
func ExponentialRetry(maxAttempts int, base, maxDelay time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Delay: func(attempt int) time.Duration {
			d := base
			for i := 1; i < attempt; i++ {
				d *= 2
				if d > maxDelay {
					return maxDelay
				}
			}
			if d > maxDelay {
				return maxDelay
			}
			return d
		},
		ShouldRetry: func(attempt int) bool { return attempt < maxAttempts },
	}
}

// Retry re-runs e according to policy while it keeps failing.
func Retry[R, E, A any](e Effect[R, E, A], policy RetryPolicy) Effect[R, E, A] {
	return Effect[R, E, A]{run: func(ctx context.Context, env R) result.Result[E, A] {
		attempt := 1
		for {
			r := e.run(ctx, env)
			if r.IsOk() || !policy.ShouldRetry(attempt) {
				return r
			}
			delay := policy.Delay(attempt)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				errVal, _ := r.GetErr()
				return result.Err[E, A](errVal)
			case <-timer.C:
			}
			attempt++
		}
	}}
}

// Bracket acquires a resource, runs use against it, and guarantees
// release runs exactly once regardless of how use exits.
func Bracket[R, E, A, B any](
	acquire Effect[R, E, A],
	use func(A) Effect[R, E, B],
	release func(A, result.Result[E, B]),
) Effect[R, E, B] {
	return Effect[R, E, B]{run: func(ctx context.Context, env R) result.Result[E, B] {
		ra := acquire.run(ctx, env)
		a, ok := ra.Get()
		if !ok {
			errVal, _ := ra.GetErr()
			return result.Err[E, B](errVal)
		}
		rb := func() (res result.Result[E, B]) {
			defer func() {
				if p := recover(); p != nil {
					var zero E
					res = result.Err[E, B](zero)
				}
			}()
			return use(a).run(ctx, env)
		}()
		release(a, rb)
		return rb
	}}
}

// Race runs ea and eb concurrently; the first to complete wins and the
// loser is cancelled. If both fail, errors combine via Semigroup.
func Race[R, E result.Semigroup[E], A any](ea, eb Effect[R, E, A]) Effect[R, E, A] {
	return Effect[R, E, A]{run: func(ctx context.Context, env R) result.Result[E, A] {
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()

		type outcome struct {
			res result.Result[E, A]
		}
		ch := make(chan outcome, 2)
		run := func(e Effect[R, E, A]) {
			ch <- outcome{res: e.run(cctx, env)}
		}
		go run(ea)
		go run(eb)

		first := <-ch
		if first.res.IsOk() {
			cancel()
			return first.res
		}
		select {
		case second := <-ch:
			if second.res.IsOk() {
				return second.res
			}
			e1, _ := first.res.GetErr()
			e2, _ := second.res.GetErr()
			return result.Err[E, A](e1.Combine(e2))
		case <-ctx.Done():
			errVal, _ := first.res.GetErr()
			return result.Err[E, A](errVal)
		}
	}}
}

// Parallel runs xs through f with at most n concurrent, preserving input
// order in the result slice. On first failure, unstarted items never
// start and running peers are cancelled; errors combine via Semigroup.
func Parallel[R, E result.Semigroup[E], A, B any](ctx context.Context, env R, n int, xs []A, f func(A) Effect[R, E, B]) result.Result[E, []B] {
	if n <= 0 {
		n = 1
	}
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]result.Result[E, B], len(xs))
	sem := make(chan struct{}, n)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var combinedErr *E
	var failed bool

	for i, x := range xs {
		i, x := i, x
		mu.Lock()
		stop := failed
		mu.Unlock()
		if stop {
			break
		}
		sem <- struct{}{}
		mu.Lock()
		stop = failed
		mu.Unlock()
		if stop {
			<-sem
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			r := f(x).run(cctx, env)
			results[i] = r
			if !r.IsOk() {
				mu.Lock()
				errVal, _ := r.GetErr()
				if combinedErr == nil {
					combinedErr = &errVal
				} else {
					merged := (*combinedErr).Combine(errVal)
					combinedErr = &merged
				}
				failed = true
				mu.Unlock()
				cancel()
			}
		}()
	}
	wg.Wait()

	if failed {
		return result.Err[E, []B](*combinedErr)
	}
	out := make([]B, len(xs))
	for i, r := range results {
		v, ok := r.Get()
		if ok {
			out[i] = v
		}
	}
	return result.Ok[E, []B](out)
}


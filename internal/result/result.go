// Copyright 2025 James Ross

// Package result provides a Result[E, A] sum type representing either a
// successful value or an accumulable error, in the spirit of Either from
// the functional-programming literature.
package result

// Semigroup combines two values of the same type into one. Error types
// used with Race, Parallel, or Struct must implement it so failures from
// independent branches can be merged rather than one silently discarded.
type Semigroup[E any] interface {
	Combine(other E) E
}

// Result is either Ok(value) or Err(err). The zero value is not a valid
// Result; construct one with Ok or Err.
type Result[E, A any] struct {
	ok    bool
	value A
	err   E
}

// Ok builds a successful Result.
func Ok[E, A any](value A) Result[E, A] {
	return Result[E, A]{ok: true, value: value}
}

// Err builds a failed Result.
func Err[E, A any](err E) Result[E, A] {
	return Result[E, A]{ok: false, err: err}
}

// IsOk reports whether the Result is successful.
func (r Result[E, A]) IsOk() bool { return r.ok }

// IsErr reports whether the Result is a failure.
func (r Result[E, A]) IsErr() bool { return !r.ok }

// Get returns the contained value and whether the Result was Ok.
func (r Result[E, A]) Get() (A, bool) {
	return r.value, r.ok
}

// GetErr returns the contained error and whether the Result was Err.
func (r Result[E, A]) GetErr() (E, bool) {
	return r.err, !r.ok
}

// GetOrElse returns the contained value, or fallback if the Result failed.
func (r Result[E, A]) GetOrElse(fallback A) A {
	if r.ok {
		return r.value
	}
	return fallback
}

// Fold collapses the Result to a single value via the matching branch.
func Fold[E, A, B any](r Result[E, A], onErr func(E) B, onOk func(A) B) B {
	if r.ok {
		return onOk(r.value)
	}
	return onErr(r.err)
}

// Map transforms a successful value, leaving a failure untouched.
func Map[E, A, B any](r Result[E, A], f func(A) B) Result[E, B] {
	if !r.ok {
		return Result[E, B]{ok: false, err: r.err}
	}
	return Ok[E, B](f(r.value))
}

// MapErr transforms a failure, leaving a success untouched.
func MapErr[E, F, A any](r Result[E, A], f func(E) F) Result[F, A] {
	if r.ok {
		return Result[F, A]{ok: true, value: r.value}
	}
	return Err[F, A](f(r.err))
}

// FlatMap (aka Chain/bind) sequences a dependent Result-producing step.
func FlatMap[E, A, B any](r Result[E, A], f func(A) Result[E, B]) Result[E, B] {
	if !r.ok {
		return Result[E, B]{ok: false, err: r.err}
	}
	return f(r.value)
}

// Ap applies a wrapped function to a wrapped value, accumulating errors
// via Semigroup when both sides fail.
func Ap[E Semigroup[E], A, B any](rf Result[E, func(A) B], ra Result[E, A]) Result[E, B] {
	fOk, fIsOk := rf.Get()
	aOk, aIsOk := ra.Get()
	switch {
	case fIsOk && aIsOk:
		return Ok[E, B](fOk(aOk))
	case !fIsOk && !aIsOk:
		fe, _ := rf.GetErr()
		ae, _ := ra.GetErr()
		return Err[E, B](fe.Combine(ae))
	case !fIsOk:
		fe, _ := rf.GetErr()
		return Err[E, B](fe)
	default:
		ae, _ := ra.GetErr()
		return Err[E, B](ae)
	}
}

// OrElse recovers from a failure with an alternative Result.
func OrElse[E, A any](r Result[E, A], alt func(E) Result[E, A]) Result[E, A] {
	if r.ok {
		return r
	}
	return alt(r.err)
}

// FromThrowable runs f, recovering any panic into an Err built by onPanic.
func FromThrowable[E, A any](f func() A, onPanic func(recovered any) E) (res Result[E, A]) {
	defer func() {
		if p := recover(); p != nil {
			res = Err[E, A](onPanic(p))
		}
	}()
	return Ok[E, A](f())
}

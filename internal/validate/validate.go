// Copyright 2025 James Ross

// Package validate provides applicative validators that accumulate every
// field error in a single pass, plus a small set of primitive validators
// used throughout the config and HTTP layers.
package validate

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// FieldError describes one validation failure.
type FieldError struct {
	Path    string
	Code    string
	Message string
}

func (f FieldError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", f.Path, f.Message, f.Code)
}

// Errors is a non-empty, order-preserving list of FieldError that
// implements result.Semigroup so it can accumulate through Ap/Struct.
type Errors []FieldError

func (e Errors) Error() string {
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fe.Error()
	}
	return strings.Join(msgs, "; ")
}

// Combine concatenates two Errors, preserving order.
func (e Errors) Combine(other Errors) Errors {
	out := make(Errors, 0, len(e)+len(other))
	out = append(out, e...)
	out = append(out, other...)
	return out
}

func one(path, code, msg string) Errors {
	return Errors{{Path: path, Code: code, Message: msg}}
}

// Result is the outcome of running a Validator: either the decoded value
// or a non-empty Errors list.
type Result[O any] struct {
	value O
	errs  Errors
	ok    bool
}

// Ok builds a successful validation Result.
func Ok[O any](value O) Result[O] { return Result[O]{value: value, ok: true} }

// Invalid builds a failed validation Result.
func Invalid[O any](errs Errors) Result[O] { return Result[O]{errs: errs, ok: false} }

// IsOk reports success.
func (r Result[O]) IsOk() bool { return r.ok }

// Value returns the decoded value and whether validation succeeded.
func (r Result[O]) Value() (O, bool) { return r.value, r.ok }

// Errors returns the accumulated errors, if any.
func (r Result[O]) Errors() Errors { return r.errs }

// Validator validates an input of type I, producing a Result[O].
type Validator[I, O any] func(I) Result[O]

// Chain sequences two validators monadically: v2 only runs if v1
// succeeds, and only the first failure is reported.
func Chain[I, M, O any](v1 Validator[I, M], v2 Validator[M, O]) Validator[I, O] {
	return func(in I) Result[O] {
		r1 := v1(in)
		if !r1.IsOk() {
			return Invalid[O](r1.Errors())
		}
		return v2(r1.value)
	}
}

// And runs two validators over the same input and keeps the second
// value, short-circuiting (like Chain but ignoring v1's output type).
func And[I, O any](v1 Validator[I, I], v2 Validator[I, O]) Validator[I, O] {
	return Chain(v1, v2)
}

// Field names one member of a Struct validator.
type Field[S, O any] struct {
	Path     string
	Validate Validator[S, O]
}

// String validates that in is already a string; present for symmetry
// with richer validator chains built on top of non-string inputs.
func String(path string) Validator[string, string] {
	return func(s string) Result[string] { return Ok(s) }
}

// NonEmptyString rejects the empty string.
func NonEmptyString(path string) Validator[string, string] {
	return func(s string) Result[string] {
		if s == "" {
			return Invalid[string](one(path, "required", "must not be empty"))
		}
		return Ok(s)
	}
}

// Number parses s as a decimal number, the way a raw config/env/JSON
// string value is coerced before numeric checks like Min/Max run
// against it.
func Number(path string) Validator[string, float64] {
	return func(s string) Result[float64] {
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return Invalid[float64](one(path, "number", "not a valid number"))
		}
		return Ok(n)
	}
}

// Boolean parses s as "true"/"false" (and strconv.ParseBool's other
// accepted spellings).
func Boolean(path string) Validator[string, bool] {
	return func(s string) Result[bool] {
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return Invalid[bool](one(path, "boolean", "not a valid boolean"))
		}
		return Ok(b)
	}
}

// Min rejects numbers below min.
func Min[N int | int64 | float64](path string, min N) Validator[N, N] {
	return func(n N) Result[N] {
		if n < min {
			return Invalid[N](one(path, "min", fmt.Sprintf("must be >= %v", min)))
		}
		return Ok(n)
	}
}

// Max rejects numbers above max.
func Max[N int | int64 | float64](path string, max N) Validator[N, N] {
	return func(n N) Result[N] {
		if n > max {
			return Invalid[N](one(path, "max", fmt.Sprintf("must be <= %v", max)))
		}
		return Ok(n)
	}
}

// Port validates a TCP port number.
func Port(path string) Validator[int, int] {
	return Chain(Min[int](path, 1), Max[int](path, 65535))
}

// OneOf rejects any value not present in allowed.
func OneOf[T comparable](path string, allowed ...T) Validator[T, T] {
	return func(v T) Result[T] {
		for _, a := range allowed {
			if a == v {
				return Ok(v)
			}
		}
		return Invalid[T](one(path, "one_of", fmt.Sprintf("must be one of %v", allowed)))
	}
}

// Pattern rejects strings that do not match re.
func Pattern(path string, re *regexp.Regexp) Validator[string, string] {
	return func(s string) Result[string] {
		if !re.MatchString(s) {
			return Invalid[string](one(path, "pattern", "does not match required pattern"))
		}
		return Ok(s)
	}
}

// EmailAddress is a branded string distinguished only at the type layer.
type EmailAddress string

// Email validates RFC 5322 mailbox syntax.
func Email(path string) Validator[string, EmailAddress] {
	return func(s string) Result[EmailAddress] {
		if _, err := mail.ParseAddress(s); err != nil {
			return Invalid[EmailAddress](one(path, "email", "not a valid email address"))
		}
		return Ok(EmailAddress(s))
	}
}

// Hostname is a branded string distinguished only at the type layer.
type Hostname string

var hostnameRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

// HostnameValidator validates DNS hostname syntax.
func HostnameValidator(path string) Validator[string, Hostname] {
	return func(s string) Result[Hostname] {
		if !hostnameRe.MatchString(s) {
			return Invalid[Hostname](one(path, "hostname", "not a valid hostname"))
		}
		return Ok(Hostname(s))
	}
}

// URLValidator validates absolute URL syntax.
func URLValidator(path string) Validator[string, *url.URL] {
	return func(s string) Result[*url.URL] {
		u, err := url.ParseRequestURI(s)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return Invalid[*url.URL](one(path, "url", "not a valid absolute URL"))
		}
		return Ok(u)
	}
}

// UUID validates RFC 4122 UUID syntax.
func UUID(path string) Validator[string, uuid.UUID] {
	return func(s string) Result[uuid.UUID] {
		id, err := uuid.Parse(s)
		if err != nil {
			return Invalid[uuid.UUID](one(path, "uuid", "not a valid UUID"))
		}
		return Ok(id)
	}
}

// Array validates every element of a slice with of, accumulating all
// element errors with index-qualified paths.
func Array[I, O any](path string, of Validator[I, O]) Validator[[]I, []O] {
	return func(in []I) Result[[]O] {
		out := make([]O, len(in))
		var errs Errors
		for i, item := range in {
			r := of(item)
			if !r.IsOk() {
				for _, fe := range r.Errors() {
					errs = append(errs, FieldError{
						Path:    fmt.Sprintf("%s[%d].%s", path, i, fe.Path),
						Code:    fe.Code,
						Message: fe.Message,
					})
				}
				continue
			}
			v, _ := r.Value()
			out[i] = v
		}
		if len(errs) > 0 {
			return Invalid[[]O](errs)
		}
		return Ok(out)
	}
}

// Record validates every value of a map with of, accumulating errors
// with key-qualified paths.
func Record[O any](path string, of Validator[string, O]) Validator[map[string]string, map[string]O] {
	return func(in map[string]string) Result[map[string]O] {
		out := make(map[string]O, len(in))
		var errs Errors
		for k, v := range in {
			r := of(v)
			if !r.IsOk() {
				for _, fe := range r.Errors() {
					errs = append(errs, FieldError{
						Path:    fmt.Sprintf("%s.%s.%s", path, k, fe.Path),
						Code:    fe.Code,
						Message: fe.Message,
					})
				}
				continue
			}
			val, _ := r.Value()
			out[k] = val
		}
		if len(errs) > 0 {
			return Invalid[map[string]O](errs)
		}
		return Ok(out)
	}
}

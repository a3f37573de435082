// Copyright 2025 James Ross
package result

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type stringsErr []string

func (s stringsErr) Combine(other stringsErr) stringsErr {
	return append(append(stringsErr{}, s...), other...)
}

func TestOkErr(t *testing.T) {
	ok := Ok[string, int](42)
	assert.True(t, ok.IsOk())
	v, present := ok.Get()
	assert.True(t, present)
	assert.Equal(t, 42, v)

	bad := Err[string, int]("boom")
	assert.True(t, bad.IsErr())
	_, present = bad.Get()
	assert.False(t, present)
}

func TestMapFunctorLaws(t *testing.T) {
	ok := Ok[string, int](2)
	identity := Map(ok, func(a int) int { return a })
	assert.Equal(t, ok, identity)

	f := func(a int) int { return a + 1 }
	composed := Map(Map(ok, f), func(a int) int { return a * 2 })
	direct := Map(ok, func(a int) int { return (a + 1) * 2 })
	assert.Equal(t, direct, composed)

	errVal := Err[string, int]("nope")
	assert.Equal(t, errVal, Map(errVal, f))
}

func TestFlatMapMonadLaws(t *testing.T) {
	unit := func(a int) Result[string, int] { return Ok[string, int](a) }
	f := func(a int) Result[string, int] { return Ok[string, int](a + 1) }

	// left identity: FlatMap(unit(a), f) == f(a)
	assert.Equal(t, f(5), FlatMap(unit(5), f))

	// right identity: FlatMap(m, unit) == m
	m := Ok[string, int](7)
	assert.Equal(t, m, FlatMap(m, unit))

	// associativity
	g := func(a int) Result[string, int] { return Ok[string, int](a * 3) }
	left := FlatMap(FlatMap(m, f), g)
	right := FlatMap(m, func(a int) Result[string, int] { return FlatMap(f(a), g) })
	assert.Equal(t, right, left)

	errVal := Err[string, int]("nope")
	assert.Equal(t, errVal, FlatMap(errVal, f))
}

func TestApAccumulatesErrors(t *testing.T) {
	badF := Err[stringsErr, func(int) int](stringsErr{"bad fn"})
	badA := Err[stringsErr, int](stringsErr{"bad arg"})
	got := Ap[stringsErr, int, int](badF, badA)
	errs, isErr := got.GetErr()
	assert.True(t, isErr)
	assert.Equal(t, stringsErr{"bad fn", "bad arg"}, errs)
}

func TestFoldAndGetOrElse(t *testing.T) {
	ok := Ok[string, int](9)
	out := Fold(ok, func(e string) string { return "err:" + e }, func(a int) string { return "ok" })
	assert.Equal(t, "ok", out)
	assert.Equal(t, 9, ok.GetOrElse(0))

	bad := Err[string, int]("x")
	assert.Equal(t, 0, bad.GetOrElse(0))
}

func TestFromThrowableRecoversPanic(t *testing.T) {
	r := FromThrowable[string, int](func() int {
		panic("kaboom")
	}, func(p any) string { return "recovered" })
	e, isErr := r.GetErr()
	assert.True(t, isErr)
	assert.Equal(t, "recovered", e)
}

// Copyright 2025 James Ross
package effect

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flyingrobots/djed/internal/result"
	"github.com/stretchr/testify/assert"
)

type strErr string

func (s strErr) Combine(other strErr) strErr { return s + ";" + other }

func TestSucceedAndRun(t *testing.T) {
	e := Succeed[struct{}, strErr, int](5)
	r := e.Run(context.Background(), struct{}{})
	v, ok := r.Get()
	assert.True(t, ok)
	assert.Equal(t, 5, v)
}

func TestMapAndFlatMap(t *testing.T) {
	e := Succeed[struct{}, strErr, int](2)
	mapped := Map(e, func(a int) int { return a * 10 })
	r := mapped.Run(context.Background(), struct{}{})
	v, _ := r.Get()
	assert.Equal(t, 20, v)

	chained := FlatMap(e, func(a int) Effect[struct{}, strErr, int] {
		return Succeed[struct{}, strErr, int](a + 1)
	})
	r2 := chained.Run(context.Background(), struct{}{})
	v2, _ := r2.Get()
	assert.Equal(t, 3, v2)
}

func TestBracketReleasesOnSuccessAndFailure(t *testing.T) {
	var released []string

	acquire := Succeed[struct{}, strErr, string]("resource")
	useOK := func(r string) Effect[struct{}, strErr, int] {
		return Succeed[struct{}, strErr, int](1)
	}
	b1 := Bracket(acquire, useOK, func(r string, _ result.Result[strErr, int]) {
		released = append(released, r)
	})
	_ = b1.Run(context.Background(), struct{}{})
	assert.Equal(t, []string{"resource"}, released)

	useFail := func(r string) Effect[struct{}, strErr, int] {
		return Fail[struct{}, strErr, int](strErr("bad"))
	}
	b2 := Bracket(acquire, useFail, func(r string, _ result.Result[strErr, int]) {
		released = append(released, r+"-failed")
	})
	res := b2.Run(context.Background(), struct{}{})
	assert.True(t, res.IsErr())
	assert.Equal(t, []string{"resource", "resource-failed"}, released)
}

func TestTimeoutExpires(t *testing.T) {
	slow := FromAsync(func(ctx context.Context, env struct{}) (int, strErr, bool) {
		select {
		case <-time.After(50 * time.Millisecond):
			return 1, "", true
		case <-ctx.Done():
			return 0, "cancelled", false
		}
	})
	bounded := Timeout(slow, 5*time.Millisecond, func() strErr { return "timeout" })
	res := bounded.Run(context.Background(), struct{}{})
	e, isErr := res.GetErr()
	assert.True(t, isErr)
	assert.Equal(t, strErr("timeout"), e)
}

func TestRetryStopsOnSuccess(t *testing.T) {
	attempts := 0
	eff := FromAsync(func(ctx context.Context, env struct{}) (int, strErr, bool) {
		attempts++
		if attempts < 3 {
			return 0, "fail", false
		}
		return 42, "", true
	})
	retried := Retry(eff, FixedRetry(5, time.Millisecond))
	res := retried.Run(context.Background(), struct{}{})
	v, ok := res.Get()
	assert.True(t, ok)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, attempts)
}

func TestParallelPreservesOrderAndBound(t *testing.T) {
	xs := []int{1, 2, 3, 4, 5}
	res := Parallel[struct{}, strErr, int, int](context.Background(), struct{}{}, 2, xs, func(x int) Effect[struct{}, strErr, int] {
		return Succeed[struct{}, strErr, int](x * x)
	})
	out, ok := res.Get()
	assert.True(t, ok)
	assert.Equal(t, []int{1, 4, 9, 16, 25}, out)
}

func TestParallelCombinesErrors(t *testing.T) {
	xs := []int{1, 2, 3}
	res := Parallel[struct{}, strErr, int, int](context.Background(), struct{}{}, 3, xs, func(x int) Effect[struct{}, strErr, int] {
		if x == 2 {
			return Fail[struct{}, strErr, int](strErr("bad-2"))
		}
		if x == 3 {
			return Fail[struct{}, strErr, int](strErr("bad-3"))
		}
		return Succeed[struct{}, strErr, int](x)
	})
	assert.True(t, res.IsErr())
}

func TestParallelStopsLaunchingAfterFailureUnderContention(t *testing.T) {
	xs := []int{1, 2, 3, 4, 5}
	var launched int32
	res := Parallel[struct{}, strErr, int, int](context.Background(), struct{}{}, 1, xs, func(x int) Effect[struct{}, strErr, int] {
		return FromAsync(func(ctx context.Context, env struct{}) (int, strErr, bool) {
			atomic.AddInt32(&launched, 1)
			if x == 1 {
				return 0, "bad-1", false
			}
			time.Sleep(20 * time.Millisecond)
			return x, "", true
		})
	})
	assert.True(t, res.IsErr())
	assert.Equal(t, int32(1), atomic.LoadInt32(&launched), "no peer should launch once the first item fails, at concurrency 1")
}

func TestRaceReturnsFirstSuccess(t *testing.T) {
	fast := Succeed[struct{}, strErr, int](1)
	slow := FromAsync(func(ctx context.Context, env struct{}) (int, strErr, bool) {
		select {
		case <-time.After(20 * time.Millisecond):
			return 2, "", true
		case <-ctx.Done():
			return 0, "cancelled", false
		}
	})
	res := Race[struct{}, strErr, int](fast, slow).Run(context.Background(), struct{}{})
	v, ok := res.Get()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

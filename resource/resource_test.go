package resource

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counters struct {
	opens  int32
	closes int32
}

func newCounted(openErr error) (*Resource, *counters) {
	c := &counters{}
	r := New(func() error {
		atomic.AddInt32(&c.opens, 1)
		return openErr
	}, func() error {
		atomic.AddInt32(&c.closes, 1)
		return nil
	})
	return r, c
}

func TestOpenIsIdempotent(t *testing.T) {
	r, c := newCounted(nil)

	require.NoError(t, r.Open())
	require.NoError(t, r.Open())
	assert.Equal(t, int32(1), atomic.LoadInt32(&c.opens))
	assert.Equal(t, StateOpen, r.State())
}

func TestConcurrentOpensShareOneAttempt(t *testing.T) {
	release := make(chan struct{})
	var opens int32
	r := New(func() error {
		atomic.AddInt32(&opens, 1)
		<-release
		return nil
	}, func() error { return nil })

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.Open()
		}()
	}

	assert.Eventually(t, func() bool { return r.State() == StateOpening }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&opens))
}

func TestFailedOpenResetsAndReportsToWaiters(t *testing.T) {
	boom := errors.New("boom")
	release := make(chan struct{})
	var fail atomic.Bool
	fail.Store(true)
	r := New(func() error {
		<-release
		if fail.Load() {
			return boom
		}
		return nil
	}, func() error { return nil })

	errs := make(chan error, 2)
	go func() { errs <- r.Open() }()
	assert.Eventually(t, func() bool { return r.State() == StateOpening }, time.Second, time.Millisecond)
	go func() { errs <- r.Open() }()

	close(release)
	assert.ErrorIs(t, <-errs, boom)
	assert.ErrorIs(t, <-errs, boom)
	assert.Equal(t, StateUnopened, r.State())

	fail.Store(false)
	assert.NoError(t, r.Open())
	assert.Equal(t, StateOpen, r.State())
}

func TestCloseUnopenedAndDoubleClose(t *testing.T) {
	r, c := newCounted(nil)

	require.NoError(t, r.Close())
	assert.Equal(t, int32(0), atomic.LoadInt32(&c.closes))

	require.NoError(t, r.Open())
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, int32(1), atomic.LoadInt32(&c.closes))
	assert.True(t, r.Closed())
}

func TestCloseWaitsForInFlightOpen(t *testing.T) {
	release := make(chan struct{})
	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	r := New(func() error {
		<-release
		record("open")
		return nil
	}, func() error {
		record("close")
		return nil
	})

	openDone := make(chan error, 1)
	go func() { openDone <- r.Open() }()
	assert.Eventually(t, func() bool { return r.State() == StateOpening }, time.Second, time.Millisecond)

	closeDone := make(chan error, 1)
	go func() { closeDone <- r.Close() }()

	close(release)
	require.NoError(t, <-openDone)
	require.NoError(t, <-closeDone)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"open", "close"}, order)
}

func TestCloseWaitsForActiveUsers(t *testing.T) {
	r, c := newCounted(nil)
	require.NoError(t, r.Open())
	require.NoError(t, r.Active())
	require.NoError(t, r.Active())

	closeDone := make(chan error, 1)
	go func() { closeDone <- r.Close() }()

	assert.Eventually(t, r.Closing, time.Second, time.Millisecond)

	// A closing resource still waiting on users can take new ones.
	require.NoError(t, r.Open())
	require.NoError(t, r.Active())

	r.Inactive()
	r.Inactive()
	select {
	case <-closeDone:
		t.Fatal("Close returned with an active user outstanding")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&c.closes))

	r.Inactive()
	require.NoError(t, <-closeDone)
	assert.Equal(t, int32(1), atomic.LoadInt32(&c.closes))
	assert.Equal(t, 0, r.ActiveCount())
}

func TestActiveAfterCloseFails(t *testing.T) {
	r, _ := newCounted(nil)
	require.NoError(t, r.Open())
	require.NoError(t, r.Close())

	assert.ErrorIs(t, r.Active(), ErrClosed)
}

func TestInactiveUnderflowPanics(t *testing.T) {
	r, _ := newCounted(nil)
	assert.Panics(t, r.Inactive)
}

func TestReopenAfterClose(t *testing.T) {
	r, c := newCounted(nil)
	require.NoError(t, r.Open())
	require.NoError(t, r.Close())
	require.NoError(t, r.Open())

	assert.Equal(t, StateOpen, r.State())
	assert.Equal(t, int32(2), atomic.LoadInt32(&c.opens))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "State(42)", State(42).String())
}

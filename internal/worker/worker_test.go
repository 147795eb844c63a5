package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingExpirer struct {
	orderCalls   int
	listingCalls int
	orderErr     error
}

func (c *countingExpirer) ExpireStaleOrders(_ context.Context, buyerID int64) (int, error) {
	c.orderCalls++
	if buyerID != 0 {
		return 0, errors.New("sweep must cover every buyer")
	}
	return 2, c.orderErr
}

func (c *countingExpirer) ExpireListings(context.Context) (int, error) {
	c.listingCalls++
	return 1, nil
}

type fakeLocker struct {
	held     bool
	err      error
	released int
}

func (l *fakeLocker) AcquireLock(context.Context, string, time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLocker) ReleaseLock(context.Context, string) error {
	l.held = false
	l.released++
	return nil
}

func TestRunOnce_SweepsOrdersAndListings(t *testing.T) {
	exp := &countingExpirer{}
	locker := &fakeLocker{}
	w := NewExpiryWorker(exp, exp, locker, time.Second)

	w.RunOnce(context.Background())

	assert.Equal(t, 1, exp.orderCalls)
	assert.Equal(t, 1, exp.listingCalls)
	assert.Equal(t, 1, locker.released)
	assert.False(t, locker.held)
}

func TestRunOnce_SkipsWhileAnotherReplicaHoldsTheLock(t *testing.T) {
	exp := &countingExpirer{}
	locker := &fakeLocker{held: true}
	w := NewExpiryWorker(exp, exp, locker, time.Second)

	w.RunOnce(context.Background())

	assert.Zero(t, exp.orderCalls)
	assert.Zero(t, exp.listingCalls)
	assert.Zero(t, locker.released)
}

func TestRunOnce_SweepsWhenLockBackendFails(t *testing.T) {
	exp := &countingExpirer{}
	w := NewExpiryWorker(exp, exp, &fakeLocker{err: errors.New("redis down")}, time.Second)

	w.RunOnce(context.Background())

	assert.Equal(t, 1, exp.orderCalls)
	assert.Equal(t, 1, exp.listingCalls)
}

func TestRunOnce_StopsAfterOrderFailure(t *testing.T) {
	exp := &countingExpirer{orderErr: errors.New("boom")}
	w := NewExpiryWorker(exp, exp, nil, time.Second)

	w.RunOnce(context.Background())

	assert.Equal(t, 1, exp.orderCalls)
	assert.Zero(t, exp.listingCalls)
}

func TestStart_ReturnsOnCancel(t *testing.T) {
	exp := &countingExpirer{}
	w := NewExpiryWorker(exp, exp, nil, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := w.Start(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Positive(t, exp.orderCalls)
}

package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/notargets/ipsens/partitions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func layout(t *testing.T, n, parts int) *partitions.PartitionLayout {
	pb := partitions.PartitionBuilder{NumItems: n, NumPartitions: parts, Strategy: partitions.RoundRobin}
	l, err := pb.BuildPartitions()
	require.NoError(t, err)
	return l
}

func TestRunVisitsEveryItemOnce(t *testing.T) {
	for _, workers := range []int{1, 2, 8} {
		r := NewRunner(layout(t, 11, 4), workers, nil)
		var mu sync.Mutex
		seen := make(map[int]int)
		err := r.Run(context.Background(), func(_ context.Context, item int) error {
			mu.Lock()
			seen[item]++
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
		assert.Len(t, seen, 11)
		for it, n := range seen {
			assert.Equal(t, 1, n, "item %d", it)
		}
	}
}

func TestRunRespectsWorkerLimit(t *testing.T) {
	r := NewRunner(layout(t, 16, 16), 3, nil)
	var active, peak int32
	err := r.Run(context.Background(), func(context.Context, int) error {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		atomic.AddInt32(&active, -1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestRunStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	r := NewRunner(layout(t, 6, 1), 2, nil)
	var calls int
	err := r.Run(context.Background(), func(_ context.Context, item int) error {
		calls++
		if item == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "item 2")
	assert.Equal(t, 3, calls)

	assert.ErrorIs(t, (&Runner{}).Run(context.Background(), nil), ErrNoLayout)
}

func TestDeferredComputesOnce(t *testing.T) {
	var calls int32
	d := Defer(func() ([]float64, error) {
		atomic.AddInt32(&calls, 1)
		return []float64{1, 2}, nil
	})
	other := Defer(func() (int, error) { return 0, nil })

	require.NoError(t, ComputeAll(context.Background(), d, other, d))
	v, err := d.Compute()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, v)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestComputeAllReturnsError(t *testing.T) {
	boom := errors.New("boom")
	ok := Defer(func() (int, error) { return 1, nil })
	bad := Defer(func() (int, error) { return 0, boom })
	assert.ErrorIs(t, ComputeAll(context.Background(), ok, bad), boom)
	_, err := bad.Compute()
	assert.ErrorIs(t, err, boom)
}

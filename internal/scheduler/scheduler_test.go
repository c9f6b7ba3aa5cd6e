package scheduler_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clementpoiret/bibli-ls/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler(t *testing.T) {
	s := scheduler.NewScheduler(8)
	s.RunScheduler()

	t.Run("tasks run one at a time in order", func(t *testing.T) {
		var mu sync.Mutex
		var order []int
		var running atomic.Int32
		for i := 0; i < 20; i++ {
			require.NoError(t, s.ScheduleHighPriorityTask(scheduler.Task{
				Name: "append",
				Execute: func() error {
					if running.Add(1) != 1 {
						t.Error("tasks overlapped")
					}
					defer running.Add(-1)
					mu.Lock()
					order = append(order, i)
					mu.Unlock()
					return nil
				},
			}))
		}
		require.NoError(t, s.Do("barrier", func() error { return nil }))

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, order, 20)
		for i, v := range order {
			assert.Equal(t, i, v)
		}
	})

	t.Run("do returns the task error", func(t *testing.T) {
		boom := errors.New("boom")
		assert.ErrorIs(t, s.Do("fail", func() error { return boom }), boom)
	})

	t.Run("periodic task", func(t *testing.T) {
		var runs atomic.Int32
		s.SchedulePeriodicTask(10*time.Millisecond, scheduler.Task{
			Name:    "poll",
			Execute: func() error { runs.Add(1); return nil },
		})
		assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	})

	s.StopScheduler()
	s.StopScheduler()
	assert.ErrorIs(t, s.ScheduleHighPriorityTask(scheduler.Task{Name: "late", Execute: func() error { return nil }}), scheduler.ErrStopped)
	assert.ErrorIs(t, s.Do("late", func() error { return nil }), scheduler.ErrStopped)
}

package reminder

import (
	"math/rand/v2"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/reborn/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPool(t *testing.T) {
	pool := DefaultPool()
	for _, c := range []Category{CategoryDaily, CategoryWhys, CategoryIntention} {
		assert.NotEmpty(t, pool[c], c)
	}
}

func TestParsePoolRequiresEveryCategory(t *testing.T) {
	_, err := ParsePool([]byte("daily: [\"a\"]\nwhys: [\"b\"]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "intention")

	_, err = ParsePool([]byte("daily: [unterminated"))
	require.Error(t, err)
}

func TestRandomQuestion(t *testing.T) {
	pool := DefaultPool()
	s := NewScheduler(pool)

	q, err := s.RandomQuestion("")
	require.NoError(t, err)
	assert.Contains(t, pool[CategoryDaily], q)

	q, err = s.RandomQuestion(CategoryWhys)
	require.NoError(t, err)
	assert.Contains(t, pool[CategoryWhys], q)

	_, err = s.RandomQuestion("weekly")
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestDailyScheduleDefaults(t *testing.T) {
	s := NewScheduler(DefaultPool())
	date := time.Date(2026, 3, 14, 15, 4, 5, 0, time.UTC)
	from := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 14, 21, 0, 0, 0, time.UTC)

	orderings := make(map[string]struct{})
	for range 1000 {
		entries, err := s.DailySchedule("u1", date, 3, 9, 21)
		require.NoError(t, err)
		require.Len(t, entries, 3)

		var key strings.Builder
		for i, e := range entries {
			assert.Equal(t, "u1", e.UserID)
			assert.NotEmpty(t, e.Question)
			assert.False(t, e.ScheduledTime.Before(from), e.ScheduledTime)
			assert.False(t, e.ScheduledTime.After(to), e.ScheduledTime)
			if i > 0 {
				assert.False(t, e.ScheduledTime.Before(entries[i-1].ScheduledTime))
			}
			key.WriteString(e.ScheduledTime.Format("15:04") + ",")
		}
		orderings[key.String()] = struct{}{}
	}
	assert.Greater(t, len(orderings), 1)
}

func TestDailyScheduleValidation(t *testing.T) {
	s := NewScheduler(DefaultPool())
	date := time.Now()

	tests := []struct {
		name       string
		count      int
		start, end int
		wantErr    error
	}{
		{"start equals end", 3, 9, 9, ErrInvalidRange},
		{"start after end", 3, 21, 9, ErrInvalidRange},
		{"negative start", 3, -1, 9, ErrInvalidRange},
		{"end past midnight", 3, 9, 25, ErrInvalidRange},
		{"negative count", -1, 9, 21, ErrInvalidCount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := s.DailySchedule("u1", date, tt.count, tt.start, tt.end)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, entries)
		})
	}
}

func TestDailyScheduleZeroCount(t *testing.T) {
	s := NewScheduler(DefaultPool())
	entries, err := s.DailySchedule("u1", time.Now(), 0, 9, 21)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestDailyScheduleFullDayReachesMidnight(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	date := time.Date(2026, 1, 31, 12, 0, 0, 0, loc)
	// A source that always returns the top of the range.
	s := NewSchedulerWithRand(DefaultPool(), rand.New(maxSource{}))

	entries, err := s.DailySchedule("u1", date, 2, 0, 24)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, loc), e.ScheduledTime)
		assert.Equal(t, loc, e.ScheduledTime.Location())
	}
}

func TestDailyScheduleSorted(t *testing.T) {
	s := NewSchedulerWithRand(DefaultPool(), rand.New(rand.NewPCG(1, 2)))
	entries, err := s.DailySchedule("u1", time.Now(), 20, 0, 24)
	require.NoError(t, err)
	assert.True(t, slices.IsSortedFunc(entries, func(a, b domain.ReminderEntry) int {
		return a.ScheduledTime.Compare(b.ScheduledTime)
	}))
}

// maxSource always yields the largest value, so IntN(n) returns n-1.
type maxSource struct{}

func (maxSource) Uint64() uint64 { return ^uint64(0) }

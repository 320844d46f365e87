// Package reminder generates reflection questions and randomized daily
// reminder schedules.
package reminder

import (
	_ "embed"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/reborn/internal/domain"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidRange is returned when the hour window is not 0 <= start < end <= 24.
	ErrInvalidRange = errors.New("invalid hour range")

	// ErrInvalidCount is returned for a negative reminder count.
	ErrInvalidCount = errors.New("invalid reminder count")

	// ErrUnknownCategory is returned for a question category with no pool.
	ErrUnknownCategory = errors.New("unknown question category")
)

// Category names a question pool.
type Category string

const (
	CategoryDaily     Category = "daily"
	CategoryWhys      Category = "whys"
	CategoryIntention Category = "intention"
)

//go:embed questions.yaml
var questionsYAML []byte

// Pool maps categories to their questions.
type Pool map[Category][]string

// ParsePool decodes a YAML document of category -> question list. Every
// known category must be present and non-empty.
func ParsePool(data []byte) (Pool, error) {
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse question pool: %w", err)
	}

	pool := make(Pool, len(raw))
	for name, questions := range raw {
		pool[Category(name)] = questions
	}
	for _, c := range []Category{CategoryDaily, CategoryWhys, CategoryIntention} {
		if len(pool[c]) == 0 {
			return nil, fmt.Errorf("parse question pool: category %q is empty", c)
		}
	}
	return pool, nil
}

// DefaultPool returns the built-in question pool.
func DefaultPool() Pool {
	pool, err := ParsePool(questionsYAML)
	if err != nil {
		panic(err)
	}
	return pool
}

// Scheduler draws questions and reminder times. It is safe for concurrent use.
type Scheduler struct {
	mu   sync.Mutex
	rng  *rand.Rand
	pool Pool
}

// NewScheduler creates a scheduler over pool with a randomly seeded source.
func NewScheduler(pool Pool) *Scheduler {
	return NewSchedulerWithRand(pool, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
}

// NewSchedulerWithRand creates a scheduler drawing from rng.
func NewSchedulerWithRand(pool Pool, rng *rand.Rand) *Scheduler {
	return &Scheduler{rng: rng, pool: pool}
}

func (s *Scheduler) intN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// RandomQuestion draws a question from the category's pool. An empty
// category means the daily pool.
func (s *Scheduler) RandomQuestion(category Category) (string, error) {
	if category == "" {
		category = CategoryDaily
	}
	questions := s.pool[category]
	if len(questions) == 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return questions[s.intN(len(questions))], nil
}

// DailySchedule returns count reminders on the calendar day of date, in
// date's location, sorted by time. Each reminder falls on a uniformly drawn
// minute in [startHour:00, endHour:00] and carries a daily question drawn
// with replacement. An endHour of 24 can place a reminder at midnight of the
// following day.
func (s *Scheduler) DailySchedule(userID string, date time.Time, count, startHour, endHour int) ([]domain.ReminderEntry, error) {
	if startHour < 0 || endHour > 24 || startHour >= endHour {
		return nil, fmt.Errorf("%w: start %d, end %d", ErrInvalidRange, startHour, endHour)
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCount, count)
	}

	daily := s.pool[CategoryDaily]
	if len(daily) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, CategoryDaily)
	}

	window := (endHour - startHour) * 60
	year, month, day := date.Date()
	entries := make([]domain.ReminderEntry, 0, count)
	for range count {
		offset := s.intN(window + 1)
		entries = append(entries, domain.ReminderEntry{
			UserID:        userID,
			ScheduledTime: time.Date(year, month, day, startHour, offset, 0, 0, date.Location()),
			Question:      daily[s.intN(len(daily))],
		})
	}

	slices.SortFunc(entries, func(a, b domain.ReminderEntry) int {
		return a.ScheduledTime.Compare(b.ScheduledTime)
	})
	return entries, nil
}

package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/reborn/internal/domain"
	"github.com/ashureev/reborn/internal/identity"
	"github.com/ashureev/reborn/internal/reminder"
	"github.com/go-chi/chi/v5"
)

// Questioner draws reflection questions and reminder schedules.
type Questioner interface {
	RandomQuestion(category reminder.Category) (string, error)
	DailySchedule(userID string, date time.Time, count, startHour, endHour int) ([]domain.ReminderEntry, error)
}

// ReminderHandler handles reflection reminder endpoints.
type ReminderHandler struct {
	reminders Questioner
	now       func() time.Time
}

// NewReminderHandler creates a reminder handler.
func NewReminderHandler(reminders Questioner) *ReminderHandler {
	return &ReminderHandler{reminders: reminders, now: time.Now}
}

// RegisterRoutes registers reminder routes behind the identity middleware.
func (h *ReminderHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/reminder", func(r chi.Router) {
		r.Get("/question", h.Question)
		r.Post("/schedule", h.Schedule)
	})
}

// Question returns a random question from the requested pool.
func (h *ReminderHandler) Question(w http.ResponseWriter, r *http.Request) {
	category := reminder.Category(r.URL.Query().Get("category"))

	question, err := h.reminders.RandomQuestion(category)
	if errors.Is(err, reminder.ErrUnknownCategory) {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.Error("Failed to draw question", "error", err)
		Error(w, http.StatusInternalServerError, "failed to draw question")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"question": question})
}

type scheduleRequest struct {
	ReminderCount *int `json:"reminder_count"`
	StartHour     *int `json:"start_hour"`
	EndHour       *int `json:"end_hour"`
}

type scheduleItem struct {
	ScheduledTime time.Time `json:"scheduled_time"`
	Question      string    `json:"question"`
}

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

// Schedule returns today's randomised reminder schedule.
func (h *ReminderHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req scheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entries, err := h.reminders.DailySchedule(userID, h.now(),
		intOr(req.ReminderCount, 3), intOr(req.StartHour, 9), intOr(req.EndHour, 21))
	if errors.Is(err, reminder.ErrInvalidRange) || errors.Is(err, reminder.ErrInvalidCount) {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.Error("Failed to build reminder schedule", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to build schedule")
		return
	}

	items := make([]scheduleItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, scheduleItem{ScheduledTime: e.ScheduledTime, Question: e.Question})
	}
	JSON(w, http.StatusOK, items)
}

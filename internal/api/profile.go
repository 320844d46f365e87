package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/reborn/internal/domain"
	"github.com/ashureev/reborn/internal/identity"
	"github.com/ashureev/reborn/internal/store"
	"github.com/go-chi/chi/v5"
)

// ProfileHandler handles coaching profile endpoints.
type ProfileHandler struct {
	profiles store.ProfileStore
}

// NewProfileHandler creates a profile handler.
func NewProfileHandler(profiles store.ProfileStore) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// RegisterRoutes registers profile routes behind the identity middleware.
func (h *ProfileHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/profile", h.Get)
	r.Put("/api/profile", h.Update)
}

// Get returns the user's profile. A user without one gets an empty profile.
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	profile, err := h.profiles.GetProfile(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to load profile", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	if profile == nil {
		profile = domain.EmptyProfile(userID)
	}
	JSON(w, http.StatusOK, renderProfile(profile))
}

// Update applies a partial profile update and returns the result.
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var update domain.ProfileUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	profile, err := h.profiles.UpdateProfile(r.Context(), userID, update)
	if err != nil {
		slog.Error("Failed to update profile", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to update profile")
		return
	}
	slog.Info("Profile updated", "user_id", userID, "stage", profile.CurrentStage)
	JSON(w, http.StatusOK, renderProfile(profile))
}

func renderProfile(p *domain.Profile) *domain.Profile {
	if p.KeyInsights == nil {
		p.KeyInsights = []string{}
	}
	return p
}

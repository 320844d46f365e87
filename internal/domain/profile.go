package domain

import (
	"strings"
	"time"
)

// MaxKeyInsights bounds the number of insights kept on a profile.
const MaxKeyInsights = 5

// Stage is the derived completeness classification of a profile.
type Stage string

const (
	StageNewUser     Stage = "new_user"
	StageExploring   Stage = "exploring"
	StageEstablished Stage = "established"
)

// DeriveStage computes the profile stage from the two vision fields.
func DeriveStage(vision, antiVision string) Stage {
	hasVision := strings.TrimSpace(vision) != ""
	hasAntiVision := strings.TrimSpace(antiVision) != ""
	switch {
	case hasVision && hasAntiVision:
		return StageEstablished
	case hasVision || hasAntiVision:
		return StageExploring
	default:
		return StageNewUser
	}
}

// Profile holds the coaching state of a user. Empty strings mean "not set".
type Profile struct {
	UserID            string    `json:"-"`
	AntiVision        string    `json:"anti_vision"`
	Vision            string    `json:"vision"`
	IdentityStatement string    `json:"identity_statement"`
	CurrentStage      Stage     `json:"current_stage"`
	KeyInsights       []string  `json:"key_insights"`
	CreatedAt         time.Time `json:"-"`
	UpdatedAt         time.Time `json:"-"`
}

// EmptyProfile returns the profile a user has before any coaching state exists.
func EmptyProfile(userID string) *Profile {
	return &Profile{UserID: userID, CurrentStage: StageNewUser, KeyInsights: []string{}}
}

// ProfileUpdate is a partial profile update. Nil fields are left unchanged.
type ProfileUpdate struct {
	AntiVision        *string  `json:"anti_vision"`
	Vision            *string  `json:"vision"`
	IdentityStatement *string  `json:"identity_statement"`
	KeyInsights       []string `json:"key_insights"`
}

// Apply merges the update into p and recomputes the stage.
func (p *Profile) Apply(u ProfileUpdate) {
	if u.AntiVision != nil {
		p.AntiVision = strings.TrimSpace(*u.AntiVision)
	}
	if u.Vision != nil {
		p.Vision = strings.TrimSpace(*u.Vision)
	}
	if u.IdentityStatement != nil {
		p.IdentityStatement = strings.TrimSpace(*u.IdentityStatement)
	}
	if u.KeyInsights != nil {
		p.KeyInsights = LastInsights(u.KeyInsights)
	}
	p.CurrentStage = DeriveStage(p.Vision, p.AntiVision)
}

// MergeInsights appends newly extracted insights to the existing ones,
// dropping duplicates and keeping only the most recent MaxKeyInsights.
func MergeInsights(existing, extracted []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(extracted))
	merged := make([]string, 0, len(existing)+len(extracted))
	for _, list := range [][]string{existing, extracted} {
		for _, insight := range list {
			insight = strings.TrimSpace(insight)
			if insight == "" {
				continue
			}
			if _, dup := seen[insight]; dup {
				continue
			}
			seen[insight] = struct{}{}
			merged = append(merged, insight)
		}
	}
	return LastInsights(merged)
}

// LastInsights returns the trailing MaxKeyInsights entries of insights.
func LastInsights(insights []string) []string {
	if len(insights) <= MaxKeyInsights {
		out := make([]string, len(insights))
		copy(out, insights)
		return out
	}
	out := make([]string, MaxKeyInsights)
	copy(out, insights[len(insights)-MaxKeyInsights:])
	return out
}

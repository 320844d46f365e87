package coach

import (
	"strings"

	"github.com/ashureev/reborn/internal/domain"
)

// FirstMessage is the opening question shown to a user with no history.
const FirstMessage = "Tell me: what has felt \"off\" for you lately?\n\nJust one thing. Be specific."

const (
	promptIdentity = `You are Re, a growth coach. You accompany people as they work out who they want to become.
You listen more than you talk, ask more than you advise, and care about "why" more than "what".
You believe action comes before insight.`

	promptRules = `## Conversation rules
- One thing per turn: ask a single question, never a list of questions.
- Start from concrete recent events, not childhood or abstractions.
- When the user asks for advice, turn it back to them first.
- Do not lecture.`

	promptInsights = `## Insight markers
When the user shows awareness of their own state, discovers a cause, makes a commitment
or finds a "why", append a marker at the end of your reply:
[INSIGHT: <short summary>]
The marker is removed before the user sees your reply.`

	promptStyle = `## Style
- Talk like a friend, in short sentences.
- No emoji.
- At most 120 words per reply.`
)

// PromptBuilder assembles the system prompt from named modules.
type PromptBuilder struct {
	modules []promptModule
	enabled map[string]bool
}

type promptModule struct {
	name string
	text string
}

// NewPromptBuilder returns a builder with every module enabled.
func NewPromptBuilder() *PromptBuilder {
	b := &PromptBuilder{
		modules: []promptModule{
			{"identity", promptIdentity},
			{"rules", promptRules},
			{"insights", promptInsights},
			{"style", promptStyle},
		},
		enabled: make(map[string]bool),
	}
	for _, m := range b.modules {
		b.enabled[m.name] = true
	}
	return b
}

// Disable turns off the named modules.
func (b *PromptBuilder) Disable(names ...string) *PromptBuilder {
	for _, name := range names {
		delete(b.enabled, name)
	}
	return b
}

// Build renders the enabled modules followed by the user context section.
func (b *PromptBuilder) Build(userContext string) string {
	parts := make([]string, 0, len(b.modules)+1)
	for _, m := range b.modules {
		if b.enabled[m.name] {
			parts = append(parts, m.text)
		}
	}
	parts = append(parts, "## About the user\n"+userContext)
	return strings.Join(parts, "\n\n")
}

var stageLabels = map[domain.Stage]string{
	domain.StageNewUser:     "new user",
	domain.StageExploring:   "exploring",
	domain.StageEstablished: "has a direction",
}

// BuildUserContext renders what is known about the user for the system
// prompt. A nil or empty profile yields a placeholder line.
func BuildUserContext(p *domain.Profile) string {
	if p == nil {
		return "New user, nothing known yet."
	}

	var lines []string
	if p.CurrentStage != "" {
		label, ok := stageLabels[p.CurrentStage]
		if !ok {
			label = string(p.CurrentStage)
		}
		lines = append(lines, "Stage: "+label)
	}
	if p.AntiVision != "" {
		lines = append(lines, "Does not want to become: "+p.AntiVision)
	}
	if p.Vision != "" {
		lines = append(lines, "Vision: "+p.Vision)
	}
	if p.IdentityStatement != "" {
		lines = append(lines, "Identity statement: "+p.IdentityStatement)
	}
	if len(p.KeyInsights) > 0 {
		insights := p.KeyInsights[:min(3, len(p.KeyInsights))]
		lines = append(lines, "Known insights: "+strings.Join(insights, "; "))
	}

	if len(lines) == 0 {
		return "New user, nothing known yet."
	}
	return strings.Join(lines, "\n")
}

package dialogue

import (
	"strings"

	"github.com/riverwoodlabs/riverwood-voice/internal/brain"
	"github.com/riverwoodlabs/riverwood-voice/internal/memory"
	"github.com/riverwoodlabs/riverwood-voice/internal/session"
)

// ContextBundle is the ephemeral, budget-bounded assembly of persona, recent
// turns, and retrieved notes fed to the completion adapter. It is rebuilt
// every turn and never persisted.
type ContextBundle struct {
	Messages     []brain.Message
	Chars        int
	DroppedTurns int
	DroppedNotes int
}

// AssembleContext composes the completion context under charBudget. When the
// assembly exceeds the budget, the oldest recent turns are dropped first and
// retrieved notes only after that: in-session continuity outweighs long-term
// recall for the immediate turn. The trailing user turn and the persona are
// never dropped, so a tiny budget can still overshoot rather than lose the
// question being answered.
func AssembleContext(persona string, recent []session.Turn, notes []memory.Scored, charBudget int) ContextBundle {
	droppedTurns, droppedNotes := 0, 0
	bundle := build(persona, recent, notes)

	for bundle.Chars > charBudget && len(recent) > 1 {
		recent = recent[1:]
		droppedTurns++
		bundle = build(persona, recent, notes)
	}
	for bundle.Chars > charBudget && len(notes) > 0 {
		notes = notes[:len(notes)-1] // lowest-ranked first
		droppedNotes++
		bundle = build(persona, recent, notes)
	}
	bundle.DroppedTurns = droppedTurns
	bundle.DroppedNotes = droppedNotes
	return bundle
}

func build(persona string, recent []session.Turn, notes []memory.Scored) ContextBundle {
	system := persona
	if len(notes) > 0 {
		var recall strings.Builder
		recall.WriteString(persona)
		recall.WriteString(memoryRecallPreamble)
		for i, n := range notes {
			if i > 0 {
				recall.WriteString("\n")
			}
			recall.WriteString("- ")
			recall.WriteString(n.Text)
		}
		recall.WriteString(memoryRecallSuffix)
		system = recall.String()
	}

	messages := make([]brain.Message, 0, len(recent)+1)
	messages = append(messages, brain.Message{Role: "system", Content: system})
	chars := len(system)
	for _, t := range recent {
		role := "user"
		if t.Role == session.RoleAgent {
			role = "assistant"
		}
		messages = append(messages, brain.Message{Role: role, Content: t.Text})
		chars += len(t.Text)
	}
	return ContextBundle{Messages: messages, Chars: chars}
}

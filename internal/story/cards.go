package story

import (
	"fmt"

	"github.com/qninhdt/gamepatch/internal/cards"
)

// Metadata keys stamped on generated node cards
const (
	MetaScenario = "scenario"
	MetaCardNo   = "cardNo"
	MetaEnding   = "ending"
)

// ChoiceDataKey is the action data key carrying a choice label
const ChoiceDataKey = "choice"

// NodeCardUID is the card uid of a node within a scenario
func NodeCardUID(scenarioUID string, no int) string {
	return fmt.Sprintf("%s-%d", scenarioUID, no)
}

// NodeCard builds the card shown for a dialogue node: the speaker and
// text, then one submit action per choice.
func NodeCard(scenarioUID, version string, node *Node) cards.CardDefinition {
	def := cards.Definition{Body: cards.Elements{}, Actions: cards.Actions{}}
	if node.Speaker != "" {
		def.Body = append(def.Body, cards.NewText("speaker", node.Speaker))
	}
	def.Body = append(def.Body, cards.NewText("text", node.Text))

	for i, c := range node.Choices {
		def.Actions = append(def.Actions, cards.Action{
			ID:    fmt.Sprintf("choice-%d", i+1),
			Type:  cards.ActionSubmit,
			Title: c.Label,
			Data:  map[string]any{ChoiceDataKey: c.Label},
		})
	}

	return cards.CardDefinition{
		UID:           NodeCardUID(scenarioUID, node.No),
		SchemaVersion: "1.0",
		CardVersion:   version,
		Definition:    def,
		Metadata: map[string]any{
			MetaScenario: scenarioUID,
			MetaCardNo:   node.No,
			MetaEnding:   node.Ending,
		},
	}
}

// NodeCards builds the cards of every node in the graph
func NodeCards(scenarioUID, version string, g *Graph) []cards.CardDefinition {
	nodes := g.Nodes()
	defs := make([]cards.CardDefinition, 0, len(nodes))
	for _, node := range nodes {
		defs = append(defs, NodeCard(scenarioUID, version, node))
	}
	return defs
}

// ChoiceLabel extracts the choice label from an action. It prefers the
// data key and falls back to the title of the matching action on the
// card.
func ChoiceLabel(action cards.ActionRef, def *cards.Definition) string {
	if data, ok := action.Data.(map[string]any); ok {
		if label, ok := data[ChoiceDataKey].(string); ok && label != "" {
			return label
		}
	}
	if a, ok := def.Action(action.ID); ok {
		return a.Title
	}
	return ""
}

// FilterOffered keeps only the actions whose choice is in offered
func FilterOffered(def cards.Definition, offered []Choice) cards.Definition {
	allowed := make(map[string]bool, len(offered))
	for _, c := range offered {
		allowed[c.Label] = true
	}

	out := cards.Definition{Body: def.Body, Actions: make(cards.Actions, 0, len(def.Actions))}
	for _, a := range def.Actions {
		label := ChoiceLabel(cards.ActionRef{ID: a.ID, Data: a.Data}, &def)
		if allowed[label] {
			out.Actions = append(out.Actions, a)
		}
	}
	return out
}

package story

import (
	"bytes"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// ImportChoice is a choice as written in a dialogue document
type ImportChoice struct {
	Choice    string   `yaml:"Choice" json:"Choice"`
	LeadsTo   *int     `yaml:"LeadsTo" json:"LeadsTo"`
	Condition string   `yaml:"Condition,omitempty" json:"Condition,omitempty"`
	Effects   []Effect `yaml:"Effects,omitempty" json:"Effects,omitempty"`
}

// ImportNode is a dialogue node as written in a dialogue document
type ImportNode struct {
	CardNo  *int           `yaml:"CardNo" json:"CardNo"`
	Text    string         `yaml:"Text" json:"Text"`
	Speaker string         `yaml:"Speaker,omitempty" json:"Speaker,omitempty"`
	Choices []ImportChoice `yaml:"Choices,omitempty" json:"Choices,omitempty"`
	Ending  bool           `yaml:"ending,omitempty" json:"ending,omitempty"`
	OnEnter []Effect       `yaml:"OnEnter,omitempty" json:"OnEnter,omitempty"`
}

// ImportNPC is a character profile shipped with a dialogue
type ImportNPC struct {
	Name        string         `yaml:"name" json:"name"`
	Role        string         `yaml:"role,omitempty" json:"role,omitempty"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Data        map[string]any `yaml:"data,omitempty" json:"data,omitempty"`
}

// Document is a parsed dialogue file
type Document struct {
	Name        string       `yaml:"name,omitempty" json:"name,omitempty"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Dialogue    []ImportNode `yaml:"dialogue" json:"dialogue"`
	NPCs        []ImportNPC  `yaml:"npcs,omitempty" json:"npcs,omitempty"`
}

// NodeError records why one node of a document was rejected
type NodeError struct {
	Index  int    `json:"index"`
	CardNo *int   `json:"cardNo,omitempty"`
	Error  string `json:"error"`
}

// ImportResult summarizes a dialogue import
type ImportResult struct {
	SuccessCount int         `json:"successCount"`
	ErrorCount   int         `json:"errorCount"`
	Errors       []NodeError `json:"errors"`
}

// Total is the number of nodes in the document
func (r *ImportResult) Total() int {
	return r.SuccessCount + r.ErrorCount
}

// Parse reads a dialogue document. The source may be YAML or JSON and
// may be either a mapping with a dialogue key or a bare list of nodes.
func Parse(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("parse dialogue: empty document")
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse dialogue: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, fmt.Errorf("parse dialogue: empty document")
	}

	content := root.Content[0]
	doc := &Document{}
	switch content.Kind {
	case yaml.SequenceNode:
		if err := content.Decode(&doc.Dialogue); err != nil {
			return nil, fmt.Errorf("parse dialogue: %w", err)
		}
	case yaml.MappingNode:
		if err := content.Decode(doc); err != nil {
			return nil, fmt.Errorf("parse dialogue: %w", err)
		}
	default:
		return nil, fmt.Errorf("parse dialogue: expected a mapping or a list of cards")
	}

	if len(doc.Dialogue) == 0 {
		return nil, fmt.Errorf("parse dialogue: no cards found")
	}
	return doc, nil
}

// Import turns a document into a graph. Each node is checked on its own:
// valid nodes are added, invalid ones are reported and skipped. A node
// whose choice leads to a rejected node is rejected too, so the graph
// never holds an edge to a card it does not contain. The entry is the
// first node in the document that declares a card number.
func Import(doc *Document) (*Graph, *ImportResult) {
	result := &ImportResult{Errors: []NodeError{}}

	declared := make(map[int]bool)
	entry := 0
	entrySet := false
	for _, n := range doc.Dialogue {
		if n.CardNo == nil {
			continue
		}
		if !entrySet {
			entry = *n.CardNo
			entrySet = true
		}
		declared[*n.CardNo] = true
	}

	type candidate struct {
		index int
		node  *Node
	}
	var accepted []candidate
	committed := make(map[int]bool)
	reject := func(i int, cardNo *int, err error) {
		result.ErrorCount++
		result.Errors = append(result.Errors, NodeError{Index: i, CardNo: cardNo, Error: err.Error()})
	}

	for i, n := range doc.Dialogue {
		node, err := checkImportNode(n, declared, committed)
		if err == nil {
			err = compileGuards(node)
		}
		if err != nil {
			reject(i, n.CardNo, err)
			continue
		}
		committed[node.No] = true
		accepted = append(accepted, candidate{index: i, node: node})
	}

	for changed := true; changed; {
		changed = false
		kept := accepted[:0]
		for _, c := range accepted {
			if err := danglingChoice(c.node, committed); err != nil {
				no := c.node.No
				reject(c.index, &no, err)
				delete(committed, no)
				changed = true
				continue
			}
			kept = append(kept, c)
		}
		accepted = kept
	}

	g := NewGraph(entry)
	for _, c := range accepted {
		if err := g.AddNode(c.node); err != nil {
			no := c.node.No
			reject(c.index, &no, err)
			continue
		}
		result.SuccessCount++
	}

	sort.SliceStable(result.Errors, func(i, j int) bool {
		return result.Errors[i].Index < result.Errors[j].Index
	})
	return g, result
}

func danglingChoice(node *Node, committed map[int]bool) error {
	for _, c := range node.Choices {
		if !committed[c.LeadsTo] {
			return fmt.Errorf("choice %q leads to rejected card %d", c.Label, c.LeadsTo)
		}
	}
	return nil
}

func checkImportNode(n ImportNode, declared, committed map[int]bool) (*Node, error) {
	if n.CardNo == nil {
		return nil, fmt.Errorf("missing CardNo")
	}
	no := *n.CardNo
	if committed[no] {
		return nil, fmt.Errorf("duplicate CardNo %d", no)
	}
	if n.Ending && len(n.Choices) > 0 {
		return nil, fmt.Errorf("ending card must not offer choices")
	}
	if !n.Ending && len(n.Choices) == 0 {
		return nil, fmt.Errorf("dead end: card has no choices and is not an ending")
	}

	node := &Node{
		No:      no,
		Text:    n.Text,
		Speaker: n.Speaker,
		Ending:  n.Ending,
		OnEnter: n.OnEnter,
	}

	seen := make(map[string]bool, len(n.Choices))
	for j, c := range n.Choices {
		if c.Choice == "" {
			return nil, fmt.Errorf("choice %d has no label", j)
		}
		if seen[c.Choice] {
			return nil, fmt.Errorf("duplicate choice label %q", c.Choice)
		}
		seen[c.Choice] = true
		if c.LeadsTo == nil {
			return nil, fmt.Errorf("choice %q has no LeadsTo", c.Choice)
		}
		if !declared[*c.LeadsTo] {
			return nil, fmt.Errorf("choice %q leads to missing card %d", c.Choice, *c.LeadsTo)
		}
		node.Choices = append(node.Choices, Choice{
			Label:     c.Choice,
			LeadsTo:   *c.LeadsTo,
			Condition: c.Condition,
			Effects:   c.Effects,
		})
	}
	return node, nil
}

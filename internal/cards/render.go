package cards

import (
	"encoding/json"
	"fmt"
)

// Node kinds produced by Render
const (
	NodeText      = "text"
	NodeImage     = "image"
	NodeContainer = "container"
	NodeColumnSet = "columnset"
	NodeColumn    = "column"
	NodeInput     = "input"
	NodeSelect    = "select"
)

// Flex is the flex shorthand of a column
type Flex struct {
	Grow   float64 `json:"grow"`
	Shrink float64 `json:"shrink"`
	Basis  string  `json:"basis"`
}

// String renders the CSS flex shorthand
func (f Flex) String() string {
	return fmt.Sprintf("%s %s %s", formatNumber(f.Grow), formatNumber(f.Shrink), f.Basis)
}

// ColumnFlex maps a column width to its flex. A number N grows by N,
// "auto" sizes to content, and anything else stretches.
func ColumnFlex(width any) Flex {
	switch w := width.(type) {
	case float64:
		return Flex{Grow: w, Shrink: 1, Basis: "0%"}
	case int:
		return Flex{Grow: float64(w), Shrink: 1, Basis: "0%"}
	case json.Number:
		if f, err := w.Float64(); err == nil {
			return Flex{Grow: f, Shrink: 1, Basis: "0%"}
		}
	case string:
		if w == "auto" {
			return Flex{Grow: 0, Shrink: 0, Basis: "auto"}
		}
	}
	return Flex{Grow: 1, Shrink: 1, Basis: "0%"}
}

// Option is a rendered choice of a select
type Option struct {
	Value string `json:"value"`
	Title string `json:"title"`
}

// Node is one rendered element
type Node struct {
	Kind        string   `json:"kind"`
	ElementID   string   `json:"elementId,omitempty"`
	InputID     string   `json:"inputId,omitempty"`
	InputType   string   `json:"inputType,omitempty"`
	Text        string   `json:"text,omitempty"`
	URL         string   `json:"url,omitempty"`
	Alt         string   `json:"alt,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Flex        *Flex    `json:"flex,omitempty"`
	Options     []Option `json:"options,omitempty"`
	Children    []*Node  `json:"children,omitempty"`
	Hidden      bool     `json:"hidden,omitempty"`
}

// IsInput reports whether the node collects user input
func (n *Node) IsInput() bool {
	return n.Kind == NodeInput || n.Kind == NodeSelect
}

// RenderedAction is an action button ready for display
type RenderedAction struct {
	ID      string         `json:"id,omitempty"`
	Type    string         `json:"type,omitempty"`
	Title   string         `json:"title"`
	URL     string         `json:"url,omitempty"`
	Targets []ToggleTarget `json:"targets,omitempty"`
	Data    any            `json:"data,omitempty"`
}

// Output is the rendered form of a card
type Output struct {
	Body    []*Node          `json:"body"`
	Actions []RenderedAction `json:"actions"`
}

// Render turns a definition into display nodes. Hidden and unknown
// elements produce no node. Rendering reads the scope but never changes
// it.
func Render(def *Definition, scope Scope) *Output {
	out := &Output{Body: []*Node{}, Actions: []RenderedAction{}}
	if def == nil {
		return out
	}
	out.Body = scope.renderAll(def.Body)
	for _, a := range def.Actions {
		out.Actions = append(out.Actions, scope.renderAction(a))
	}
	return out
}

func (s Scope) renderAll(elements Elements) []*Node {
	nodes := make([]*Node, 0, len(elements))
	for _, el := range elements {
		if n := s.renderElement(el); n != nil {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

func (s Scope) renderElement(el Element) *Node {
	if el == nil || !s.Visible(el.Base()) {
		return nil
	}

	var n *Node
	switch e := el.(type) {
	case *TextElement:
		n = &Node{Kind: NodeText, Text: s.Interpolate(e.Text)}
	case *ImageElement:
		n = &Node{Kind: NodeImage, URL: s.Interpolate(e.URL), Alt: s.Interpolate(e.Alt)}
	case *ContainerElement:
		n = &Node{Kind: NodeContainer, Children: s.renderAll(e.Items)}
	case *ColumnSetElement:
		n = &Node{Kind: NodeColumnSet, Children: s.renderAll(e.Columns)}
	case *ColumnElement:
		flex := ColumnFlex(e.Width)
		n = &Node{Kind: NodeColumn, Flex: &flex, Children: s.renderAll(e.Items)}
	case *TextInput:
		n = &Node{Kind: NodeInput, InputType: "text", InputID: e.ID, Placeholder: s.Interpolate(e.Placeholder)}
	case *DateInput:
		n = &Node{Kind: NodeInput, InputType: "date", InputID: e.ID}
	case *NumberInput:
		n = &Node{Kind: NodeInput, InputType: "number", InputID: e.ID, Min: e.Min, Max: e.Max}
	case *ChoiceSetInput:
		n = &Node{Kind: NodeSelect, InputID: e.ID, Options: s.renderOptions(e.Choices)}
	default:
		return nil
	}

	n.ElementID = el.Base().ID
	return n
}

func (s Scope) renderOptions(choices []InputChoice) []Option {
	opts := make([]Option, 0, len(choices))
	for _, c := range choices {
		value := c.Value
		if value == "" {
			value = c.Title
		}
		title := c.Title
		if title == "" {
			title = c.Value
		}
		opts = append(opts, Option{Value: value, Title: s.Interpolate(title)})
	}
	return opts
}

func (s Scope) renderAction(a Action) RenderedAction {
	title := a.Title
	if title == "" {
		title = a.ID
	}
	if title == "" {
		title = "Action"
	}
	return RenderedAction{
		ID:      a.ID,
		Type:    a.Type,
		Title:   s.Interpolate(title),
		URL:     s.Interpolate(a.URL),
		Targets: NormalizeTargets(a.TargetElements),
		Data:    s.Apply(a.Data),
	}
}

// Walk visits every node depth first until fn returns false
func (o *Output) Walk(fn func(*Node) bool) {
	if o == nil {
		return
	}
	var visit func(nodes []*Node) bool
	visit = func(nodes []*Node) bool {
		for _, n := range nodes {
			if !fn(n) {
				return false
			}
			if !visit(n.Children) {
				return false
			}
		}
		return true
	}
	visit(o.Body)
}

// Find returns the first node carrying the element id
func (o *Output) Find(elementID string) *Node {
	if elementID == "" {
		return nil
	}
	var found *Node
	o.Walk(func(n *Node) bool {
		if n.ElementID == elementID {
			found = n
			return false
		}
		return true
	})
	return found
}

// Inputs returns the rendered input nodes that have an id, in document order
func (o *Output) Inputs() []*Node {
	var inputs []*Node
	o.Walk(func(n *Node) bool {
		if n.IsInput() && n.InputID != "" {
			inputs = append(inputs, n)
		}
		return true
	})
	return inputs
}

// Action returns the rendered action with the given id
func (o *Output) Action(id string) (RenderedAction, bool) {
	if o == nil {
		return RenderedAction{}, false
	}
	for _, a := range o.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return RenderedAction{}, false
}

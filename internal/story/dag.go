package story

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ConditionTimeout bounds the evaluation of a single choice guard
var ConditionTimeout = 100 * time.Millisecond

// ErrNoSuchChoice is returned when a label is not offered by a node
var ErrNoSuchChoice = errors.New("choice not offered")

// Effect is a state change applied when a choice is taken or a node is entered
type Effect struct {
	Op     string  `json:"op" yaml:"op"`
	Key    string  `json:"key,omitempty" yaml:"key,omitempty"`
	Amount float64 `json:"amount,omitempty" yaml:"amount,omitempty"`
	Value  any     `json:"value,omitempty" yaml:"value,omitempty"`
}

// Choice is a labeled edge to another dialogue node
type Choice struct {
	Label     string   `json:"choice"`
	LeadsTo   int      `json:"leadsTo"`
	Condition string   `json:"condition,omitempty"`
	Effects   []Effect `json:"effects,omitempty"`

	program *vm.Program
}

// Node is one beat of a dialogue
type Node struct {
	No      int      `json:"cardNo"`
	Text    string   `json:"text"`
	Speaker string   `json:"speaker,omitempty"`
	Choices []Choice `json:"choices,omitempty"`
	Ending  bool     `json:"ending,omitempty"`
	OnEnter []Effect `json:"onEnter,omitempty"`
}

// Choice returns the choice with the given label
func (n *Node) Choice(label string) (*Choice, bool) {
	for i := range n.Choices {
		if n.Choices[i].Label == label {
			return &n.Choices[i], true
		}
	}
	return nil, false
}

// Graph is a dialogue: numbered nodes joined by labeled choices. Cycles
// are allowed.
type Graph struct {
	Entry int

	nodes map[int]*Node
	order []int
	mu    sync.RWMutex
}

// NewGraph creates an empty graph starting at entry
func NewGraph(entry int) *Graph {
	return &Graph{
		Entry: entry,
		nodes: make(map[int]*Node),
	}
}

// AddNode adds a node and compiles its choice guards
func (g *Graph) AddNode(node *Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[node.No]; exists {
		return fmt.Errorf("card %d already exists", node.No)
	}

	if err := compileGuards(node); err != nil {
		return err
	}

	g.nodes[node.No] = node
	g.order = append(g.order, node.No)
	return nil
}

func compileGuards(node *Node) error {
	for i := range node.Choices {
		c := &node.Choices[i]
		if c.Condition == "" {
			continue
		}
		program, err := expr.Compile(c.Condition, expr.AllowUndefinedVariables())
		if err != nil {
			return fmt.Errorf("invalid condition for choice %q: %w", c.Label, err)
		}
		c.program = program
	}
	return nil
}

// Node returns a node by number, or nil
func (g *Graph) Node(no int) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[no]
}

// Nodes returns all nodes in insertion order
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := make([]*Node, 0, len(g.order))
	for _, no := range g.order {
		nodes = append(nodes, g.nodes[no])
	}
	return nodes
}

// Len returns the number of nodes
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// CheckCondition evaluates a choice guard against state. An empty guard
// always passes.
func (g *Graph) CheckCondition(c *Choice, env map[string]interface{}) (bool, error) {
	if c.Condition == "" {
		return true, nil
	}

	if c.program == nil {
		program, err := expr.Compile(c.Condition, expr.AllowUndefinedVariables())
		if err != nil {
			return false, fmt.Errorf("invalid condition: %w", err)
		}
		c.program = program
	}

	ctx, cancel := context.WithTimeout(context.Background(), ConditionTimeout)
	defer cancel()

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		result, err := vm.Run(c.program, env)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case <-ctx.Done():
		return false, fmt.Errorf("condition evaluation timeout")
	case err := <-errChan:
		return false, fmt.Errorf("condition evaluation error: %w", err)
	case result := <-resultChan:
		boolResult, ok := result.(bool)
		if !ok {
			return false, fmt.Errorf("condition did not evaluate to boolean")
		}
		return boolResult, nil
	}
}

// Offered returns the choices of a node whose guards pass. A guard that
// fails to evaluate hides its choice.
func (g *Graph) Offered(no int, env map[string]interface{}) ([]Choice, error) {
	node := g.Node(no)
	if node == nil {
		return nil, fmt.Errorf("card %d not found", no)
	}

	offered := make([]Choice, 0, len(node.Choices))
	for i := range node.Choices {
		ok, err := g.CheckCondition(&node.Choices[i], env)
		if err != nil || !ok {
			continue
		}
		offered = append(offered, node.Choices[i])
	}
	return offered, nil
}

// Take resolves a labeled choice from a node and returns it with its
// target node.
func (g *Graph) Take(no int, label string, env map[string]interface{}) (*Choice, *Node, error) {
	node := g.Node(no)
	if node == nil {
		return nil, nil, fmt.Errorf("card %d not found", no)
	}

	choice, ok := node.Choice(label)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q on card %d", ErrNoSuchChoice, label, no)
	}
	pass, err := g.CheckCondition(choice, env)
	if err != nil || !pass {
		return nil, nil, fmt.Errorf("%w: %q on card %d", ErrNoSuchChoice, label, no)
	}

	target := g.Node(choice.LeadsTo)
	if target == nil {
		return nil, nil, fmt.Errorf("choice %q leads to missing card %d", label, choice.LeadsTo)
	}
	return choice, target, nil
}

// ValidationError is a problem that blocks publishing a dialogue
type ValidationError struct {
	CardNo  int    `json:"cardNo"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("card %d: %s", e.CardNo, e.Message)
	}
	return fmt.Sprintf("card %d: %s: %s", e.CardNo, e.Path, e.Message)
}

// Validate checks the whole graph: the entry exists, every edge lands on
// a node, labels are unique and non-empty, endings offer no choices,
// non-endings offer at least one, and every node is reachable from the
// entry. An empty result means the graph can be published.
func (g *Graph) Validate() []*ValidationError {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []*ValidationError

	if len(g.nodes) == 0 {
		return []*ValidationError{{CardNo: g.Entry, Message: "dialogue has no cards"}}
	}
	if _, ok := g.nodes[g.Entry]; !ok {
		errs = append(errs, &ValidationError{CardNo: g.Entry, Path: "entry", Message: "entry card does not exist"})
	}

	for _, no := range g.order {
		node := g.nodes[no]
		if node.Ending && len(node.Choices) > 0 {
			errs = append(errs, &ValidationError{CardNo: no, Message: "ending card must not offer choices"})
		}
		if !node.Ending && len(node.Choices) == 0 {
			errs = append(errs, &ValidationError{CardNo: no, Message: "dead end: card has no choices and is not an ending"})
		}

		seen := make(map[string]bool, len(node.Choices))
		for i, c := range node.Choices {
			path := fmt.Sprintf("choices[%d]", i)
			if c.Label == "" {
				errs = append(errs, &ValidationError{CardNo: no, Path: path, Message: "choice label is empty"})
			} else if seen[c.Label] {
				errs = append(errs, &ValidationError{CardNo: no, Path: path, Message: fmt.Sprintf("duplicate choice label %q", c.Label)})
			}
			seen[c.Label] = true

			if _, ok := g.nodes[c.LeadsTo]; !ok {
				errs = append(errs, &ValidationError{CardNo: no, Path: path, Message: fmt.Sprintf("choice %q leads to missing card %d", c.Label, c.LeadsTo)})
			}
			if c.Condition != "" && c.program == nil {
				if _, err := expr.Compile(c.Condition, expr.AllowUndefinedVariables()); err != nil {
					errs = append(errs, &ValidationError{CardNo: no, Path: path, Message: fmt.Sprintf("invalid condition: %v", err)})
				}
			}
		}
	}

	if _, ok := g.nodes[g.Entry]; ok {
		reached := g.reachableLocked()
		for _, no := range g.order {
			if !reached[no] {
				errs = append(errs, &ValidationError{CardNo: no, Message: fmt.Sprintf("card is unreachable from entry card %d", g.Entry)})
			}
		}
	}

	return errs
}

func (g *Graph) reachableLocked() map[int]bool {
	reached := map[int]bool{g.Entry: true}
	queue := []int{g.Entry}
	for len(queue) > 0 {
		no := queue[0]
		queue = queue[1:]
		node, ok := g.nodes[no]
		if !ok {
			continue
		}
		for _, c := range node.Choices {
			if _, exists := g.nodes[c.LeadsTo]; exists && !reached[c.LeadsTo] {
				reached[c.LeadsTo] = true
				queue = append(queue, c.LeadsTo)
			}
		}
	}
	return reached
}

// VisualGraph returns the graph as nodes and edges for display
func (g *Graph) VisualGraph() map[string]interface{} {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := make([]map[string]interface{}, 0, len(g.order))
	edges := make([]map[string]interface{}, 0)

	for _, no := range g.order {
		node := g.nodes[no]
		nodes = append(nodes, map[string]interface{}{
			"cardNo":  node.No,
			"text":    node.Text,
			"speaker": node.Speaker,
			"ending":  node.Ending,
			"entry":   node.No == g.Entry,
		})

		for _, c := range node.Choices {
			edges = append(edges, map[string]interface{}{
				"from":      node.No,
				"to":        c.LeadsTo,
				"choice":    c.Label,
				"condition": c.Condition,
			})
		}
	}

	return map[string]interface{}{
		"entry": g.Entry,
		"nodes": nodes,
		"edges": edges,
	}
}

type graphJSON struct {
	Entry int     `json:"entry"`
	Nodes []*Node `json:"nodes"`
}

// MarshalJSON implements json.Marshaler
func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(graphJSON{Entry: g.Entry, Nodes: g.Nodes()})
}

// UnmarshalJSON implements json.Unmarshaler
func (g *Graph) UnmarshalJSON(data []byte) error {
	var raw graphJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.Entry = raw.Entry
	g.nodes = make(map[int]*Node, len(raw.Nodes))
	g.order = g.order[:0]
	for _, node := range raw.Nodes {
		if node == nil {
			continue
		}
		if err := compileGuards(node); err != nil {
			return fmt.Errorf("card %d: %w", node.No, err)
		}
		if _, exists := g.nodes[node.No]; exists {
			return fmt.Errorf("card %d already exists", node.No)
		}
		g.nodes[node.No] = node
		g.order = append(g.order, node.No)
	}
	return nil
}

// Endings returns the numbers of all ending nodes, ascending
func (g *Graph) Endings() []int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var endings []int
	for no, node := range g.nodes {
		if node.Ending {
			endings = append(endings, no)
		}
	}
	sort.Ints(endings)
	return endings
}

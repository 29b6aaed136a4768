package cards

import (
	"bytes"
	"encoding/json"
	"time"
)

// Element kinds understood by the renderer
const (
	KindText           = "Text"
	KindImage          = "Image"
	KindContainer      = "Container"
	KindColumnSet      = "ColumnSet"
	KindColumn         = "Column"
	KindInputText      = "Input.Text"
	KindInputDate      = "Input.Date"
	KindInputNumber    = "Input.Number"
	KindInputChoiceSet = "Input.ChoiceSet"
)

// Action types with client-side meaning. Any other type is opaque and
// only travels to the server.
const (
	ActionOpenURL          = "Action.OpenUrl"
	ActionToggleVisibility = "Action.ToggleVisibility"
	ActionSubmit           = "Action.Submit"
)

// Element is one node of a card body. The set of implementations is closed:
// every kind above has a struct, and anything else decodes to
// *UnknownElement, which renders nothing.
type Element interface {
	Base() *ElementBase
	Kind() string
}

// ElementBase holds the fields every element may carry
type ElementBase struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	IsVisible *bool  `json:"isVisible,omitempty"`
	When      any    `json:"when,omitempty"`
}

// Base returns the shared element fields
func (b *ElementBase) Base() *ElementBase { return b }

// TextElement renders templated text
type TextElement struct {
	ElementBase
	Text string `json:"text"`
}

// ImageElement renders an image with templated url and alt text
type ImageElement struct {
	ElementBase
	URL string `json:"url"`
	Alt string `json:"alt,omitempty"`
}

// ContainerElement wraps child elements
type ContainerElement struct {
	ElementBase
	Items Elements `json:"items,omitempty"`
}

// ColumnSetElement lays columns out horizontally
type ColumnSetElement struct {
	ElementBase
	Columns Elements `json:"columns,omitempty"`
}

// ColumnElement is one column of a ColumnSet. Width is a number, "auto"
// or "stretch".
type ColumnElement struct {
	ElementBase
	Width any      `json:"width,omitempty"`
	Items Elements `json:"items,omitempty"`
}

// TextInput is a free text input
type TextInput struct {
	ElementBase
	Placeholder string `json:"placeholder,omitempty"`
}

// DateInput is a date picker
type DateInput struct {
	ElementBase
}

// NumberInput is a numeric input with optional bounds
type NumberInput struct {
	ElementBase
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// ChoiceSetInput is a single-choice select
type ChoiceSetInput struct {
	ElementBase
	Choices []InputChoice `json:"choices,omitempty"`
}

// InputChoice is one option of a ChoiceSetInput
type InputChoice struct {
	Title string `json:"title,omitempty"`
	Value string `json:"value,omitempty"`
}

// UnknownElement keeps an element of a kind this version does not know
// about. It round-trips through JSON unchanged.
type UnknownElement struct {
	ElementBase
	Raw json.RawMessage `json:"-"`
}

func (e *TextElement) Kind() string      { return KindText }
func (e *ImageElement) Kind() string     { return KindImage }
func (e *ContainerElement) Kind() string { return KindContainer }
func (e *ColumnSetElement) Kind() string { return KindColumnSet }
func (e *ColumnElement) Kind() string    { return KindColumn }
func (e *TextInput) Kind() string        { return KindInputText }
func (e *DateInput) Kind() string        { return KindInputDate }
func (e *NumberInput) Kind() string      { return KindInputNumber }
func (e *ChoiceSetInput) Kind() string   { return KindInputChoiceSet }
func (e *UnknownElement) Kind() string   { return e.Type }

// MarshalJSON emits the element exactly as it was received
func (e *UnknownElement) MarshalJSON() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	return json.Marshal(e.ElementBase)
}

// Elements is an ordered list of elements decoded by their type tag
type Elements []Element

// UnmarshalJSON decodes each entry by its "type". Entries that are not
// objects are dropped, and a non-array value decodes to an empty list.
func (l *Elements) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		*l = nil
		return nil
	}

	out := make(Elements, 0, len(raws))
	for _, raw := range raws {
		if el := DecodeElement(raw); el != nil {
			out = append(out, el)
		}
	}
	*l = out
	return nil
}

// DecodeElement decodes a single element. It returns nil for anything
// that is not a JSON object. A known kind whose fields fail to decode
// degrades to *UnknownElement rather than failing the whole card.
func DecodeElement(raw json.RawMessage) Element {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}

	var base ElementBase
	if err := json.Unmarshal(raw, &base); err != nil {
		return nil
	}

	var el Element
	switch base.Type {
	case KindText:
		el = &TextElement{}
	case KindImage:
		el = &ImageElement{}
	case KindContainer:
		el = &ContainerElement{}
	case KindColumnSet:
		el = &ColumnSetElement{}
	case KindColumn:
		el = &ColumnElement{}
	case KindInputText:
		el = &TextInput{}
	case KindInputDate:
		el = &DateInput{}
	case KindInputNumber:
		el = &NumberInput{}
	case KindInputChoiceSet:
		el = &ChoiceSetInput{}
	default:
		return &UnknownElement{ElementBase: base, Raw: append(json.RawMessage(nil), raw...)}
	}

	if err := json.Unmarshal(raw, el); err != nil {
		return &UnknownElement{ElementBase: base, Raw: append(json.RawMessage(nil), raw...)}
	}
	return el
}

// Action is a button on the card
type Action struct {
	ID             string `json:"id,omitempty"`
	Type           string `json:"type,omitempty"`
	Title          string `json:"title,omitempty"`
	URL            string `json:"url,omitempty"`
	Data           any    `json:"data,omitempty"`
	TargetElements any    `json:"targetElements,omitempty"`
}

// Actions is the action list of a card
type Actions []Action

// UnmarshalJSON tolerates a non-array value and drops non-object entries
func (l *Actions) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		*l = nil
		return nil
	}

	out := make(Actions, 0, len(raws))
	for _, raw := range raws {
		if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
			continue
		}
		var a Action
		if err := json.Unmarshal(raw, &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	*l = out
	return nil
}

// Definition is the declarative element tree of a card
type Definition struct {
	Body    Elements `json:"body"`
	Actions Actions  `json:"actions"`
}

// IsEmpty reports whether the definition has nothing to render
func (d *Definition) IsEmpty() bool {
	return d == nil || (len(d.Body) == 0 && len(d.Actions) == 0)
}

// Action returns the action with the given id
func (d *Definition) Action(id string) (Action, bool) {
	if d == nil {
		return Action{}, false
	}
	for _, a := range d.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

// CardDefinition is a published, immutable card. A new version is a new
// uid, never an in-place edit.
type CardDefinition struct {
	UID           string          `json:"uid"`
	SchemaVersion string          `json:"schemaVersion"`
	CardVersion   string          `json:"cardVersion"`
	Definition    Definition      `json:"definition"`
	Compiled      json.RawMessage `json:"compiledDefinition,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// MetaString returns a string metadata value, or "" when absent
func (c *CardDefinition) MetaString(key string) string {
	if c == nil || c.Metadata == nil {
		return ""
	}
	s, _ := c.Metadata[key].(string)
	return s
}

// NewText builds a Text element
func NewText(id, text string) *TextElement {
	return &TextElement{ElementBase: ElementBase{Type: KindText, ID: id}, Text: text}
}

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/qninhdt/gamepatch/internal/cards"
)

// Messages shown in the card's own region
const (
	msgLoadFailed     = "Unable to load card."
	msgResponseFailed = "Response failed."
	msgSaved          = "Response saved!"
)

var (
	// ErrBusy means an action is already in flight for the session
	ErrBusy = errors.New("action in progress")
	// ErrNoCard means no card payload is loaded
	ErrNoCard = errors.New("no card loaded")
	// ErrUnknownAction means the current card has no action with that id
	ErrUnknownAction = errors.New("unknown action")
)

// Phase is where a session stands with its card instance
type Phase string

const (
	// PhaseUnbound has no payload yet
	PhaseUnbound Phase = "unbound"
	// PhaseBound shows a payload but no instance exists yet
	PhaseBound Phase = "bound"
	// PhaseActive has a live instance
	PhaseActive Phase = "active"
	// PhaseCompleted and PhaseAbandoned are terminal
	PhaseCompleted Phase = "completed"
	PhaseAbandoned Phase = "abandoned"
)

// View is what the host displays for a session
type View struct {
	Phase        Phase
	Output       *cards.Output
	Theme        cards.Theme
	FallbackText string
	Message      string
	MessageKind  cards.MessageKind
	Overlay      bool
}

// Session holds the local render state of one card shown in a host
// surface and mediates its action round trips. One action may be in
// flight at a time.
type Session struct {
	client *Client
	uid    string
	hints  Hints
	logger *slog.Logger

	// OpenURL is called for open-url effects. Nil ignores them.
	OpenURL func(url string)

	mu       sync.Mutex
	phase    Phase
	payload  *cards.Payload
	overlays []*cards.Payload
	inputs   cards.Inputs
	hidden   map[string]bool
	message  string
	kind     cards.MessageKind
	busy     bool
	events   *EventQueue
}

// NewSession creates a session for the card uid
func NewSession(client *Client, uid string, hints Hints, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		client: client,
		uid:    uid,
		hints:  hints,
		logger: logger,
		phase:  PhaseUnbound,
		inputs: cards.Inputs{},
		hidden: map[string]bool{},
		events: NewEventQueue(),
	}
}

// Phase returns the session phase
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Events returns the queue of execute events for the host
func (s *Session) Events() *EventQueue {
	return s.events
}

// Payload returns the payload currently shown
func (s *Session) Payload() *cards.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payload
}

// Load fetches the card. A failure shows the load error and keeps the
// previous state.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	uid, hints := s.uid, s.hints
	if s.payload != nil && s.payload.CardInstanceID != "" {
		hints.InstanceID = s.payload.CardInstanceID
	}
	s.mu.Unlock()

	p, err := s.client.FetchCard(ctx, uid, hints)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.logger.Warn("card load failed", "card", uid, "error", err)
		s.setMessage(cards.MessageError, msgLoadFailed)
		return err
	}
	s.replace(p)
	return nil
}

// ApplyPayload shows a payload the host received some other way
func (s *Session) ApplyPayload(p *cards.Payload) {
	if p == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uid = p.UID
	s.replace(p)
}

// SetInput records the live value of an input control
func (s *Session) SetInput(id string, v cards.InputValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs[id] = v
}

// View renders the current card. Render faults are contained and shown
// as the load error.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view()
}

// WriteHTML writes the current view as an HTML fragment
func (s *Session) WriteHTML(w io.Writer) error {
	v := s.View()
	if v.Output != nil {
		if err := cards.WriteHTML(w, v.Output, v.Theme); err != nil {
			return err
		}
	} else if v.FallbackText != "" {
		if err := cards.WriteMessageHTML(w, cards.MessageFallback, v.FallbackText); err != nil {
			return err
		}
	}
	if v.Message != "" {
		return cards.WriteMessageHTML(w, v.MessageKind, v.Message)
	}
	return nil
}

// Toggle flips or sets the display of rendered elements. Ids not in the
// rendered tree are ignored. It returns how many targets applied.
func (s *Session) Toggle(targets []cards.ToggleTarget) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := s.render()
	if err != nil {
		return 0
	}
	return s.toggle(out, targets)
}

// Back closes the top overlay and reports whether there was one
func (s *Session) Back() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.overlays)
	if n == 0 {
		return false
	}
	s.payload = s.overlays[n-1]
	s.overlays = s.overlays[:n-1]
	s.resetLocal()
	return true
}

// Act performs the action with the given id: local effects first, then
// the response round trip, then the server's directives.
func (s *Session) Act(ctx context.Context, actionID string) error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.payload == nil || s.payload.Definition == nil {
		s.mu.Unlock()
		return ErrNoCard
	}
	action, ok := s.payload.Definition.Action(actionID)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", actionID, ErrUnknownAction)
	}
	out, err := s.render()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	rendered, _ := out.Action(actionID)

	var (
		openedLocally  bool
		toggledLocally bool
		openURL        string
	)
	switch action.Type {
	case cards.ActionOpenURL:
		openURL = rendered.URL
		openedLocally = openURL != ""
	case cards.ActionToggleVisibility:
		s.toggle(out, rendered.Targets)
		toggledLocally = len(rendered.Targets) > 0
	}

	s.busy = true
	p := s.payload
	scope := s.scope(p)
	req := cards.RespondRequest{
		CardInstanceID: p.CardInstanceID,
		ResponsePayload: cards.ResponsePayload{
			CardID:  p.UID,
			Action:  cards.ActionRef{ID: action.ID, Type: action.Type, Data: scope.Apply(action.Data)},
			Inputs:  s.collectInputs(out),
			Context: p.Context,
		},
	}
	hook := s.OpenURL
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	if openedLocally && hook != nil {
		hook(openURL)
	}

	if req.CardInstanceID == "" {
		id, err := s.client.CreateInstance(ctx, p.UID, s.hints)
		if err != nil {
			s.fail(err)
			return err
		}
		req.CardInstanceID = id
		s.mu.Lock()
		if s.payload == p {
			p.CardInstanceID = id
			s.phase = PhaseActive
		}
		s.mu.Unlock()
	}

	result, err := s.client.Respond(ctx, p.UID, req)
	if err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	s.apply(action, req.CardInstanceID, result, toggledLocally)
	serverURL := ""
	if result.Error == "" && result.OpenURL != "" && !openedLocally {
		serverURL = scope.Interpolate(result.OpenURL)
	}
	s.mu.Unlock()

	if serverURL != "" && hook != nil {
		hook(serverURL)
	}
	return nil
}

// apply folds a respond result into local state. Callers hold mu.
func (s *Session) apply(action cards.Action, instanceID string, result *cards.RespondResult, toggledLocally bool) {
	if result.Error != "" {
		s.setMessage(cards.MessageError, result.Error)
		return
	}

	switch {
	case result.NextCard != nil:
		s.overlays = nil
		s.uid = result.NextCard.UID
		s.replace(result.NextCard)
	case result.ShowCard != nil:
		s.overlays = append(s.overlays, s.payload)
		s.payload = result.ShowCard
		s.resetLocal()
	case result.Execute != nil:
		s.events.Enqueue(&Event{
			CardUID:    s.payload.UID,
			ActionID:   action.ID,
			InstanceID: instanceID,
			Payload:    result.Execute,
		})
		s.message = ""
	default:
		s.setMessage(cards.MessageAck, msgSaved)
	}

	if result.ToggleVisibility != nil && !toggledLocally {
		if out, err := s.render(); err == nil {
			s.toggle(out, cards.NormalizeTargets(result.ToggleVisibility))
		}
	}

	switch result.InstanceStatus {
	case "completed":
		s.phase = PhaseCompleted
	case "abandoned":
		s.phase = PhaseAbandoned
	case "active":
		if s.phase == PhaseBound {
			s.phase = PhaseActive
		}
	}
}

// fail shows the server's error text when it sent one, else the
// generic failure message
func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Warn("card action failed", "card", s.uid, "error", err)
	msg := msgResponseFailed
	var se *StatusError
	if errors.As(err, &se) && se.Message != "" {
		msg = se.Message
	}
	s.setMessage(cards.MessageError, msg)
}

// replace hard-replaces the shown payload. Callers hold mu.
func (s *Session) replace(p *cards.Payload) {
	s.payload = p
	s.resetLocal()
	s.message = ""
	if p.CardInstanceID != "" {
		if s.phase == PhaseUnbound || s.phase == PhaseBound {
			s.phase = PhaseActive
		}
	} else if s.phase == PhaseUnbound {
		s.phase = PhaseBound
	}
}

func (s *Session) resetLocal() {
	s.inputs = cards.Inputs{}
	s.hidden = map[string]bool{}
}

func (s *Session) setMessage(kind cards.MessageKind, text string) {
	s.kind = kind
	s.message = text
}

func (s *Session) scope(p *cards.Payload) cards.Scope {
	return cards.Scope{Input: s.inputs, Data: p.Data, Context: p.Context, State: p.State}
}

// render renders the shown payload with local toggles applied
func (s *Session) render() (out *cards.Output, err error) {
	if s.payload == nil || s.payload.Definition == nil {
		return nil, ErrNoCard
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("card render panicked", "card", s.payload.UID, "panic", r)
			out, err = nil, fmt.Errorf("render %s: %v", s.payload.UID, r)
		}
	}()

	out = cards.Render(s.payload.Definition, s.scope(s.payload))
	out.Walk(func(n *cards.Node) bool {
		if hidden, ok := s.hidden[n.ElementID]; ok && n.ElementID != "" {
			n.Hidden = hidden
		}
		return true
	})
	return out, nil
}

func (s *Session) toggle(out *cards.Output, targets []cards.ToggleTarget) int {
	applied := 0
	for _, t := range targets {
		n := out.Find(t.ID)
		if n == nil {
			continue
		}
		hidden := !n.Hidden
		if t.IsVisible != nil {
			hidden = !*t.IsVisible
		}
		n.Hidden = hidden
		s.hidden[t.ID] = hidden
		applied++
	}
	return applied
}

func (s *Session) collectInputs(out *cards.Output) map[string]any {
	values := map[string]any{}
	for _, n := range out.Inputs() {
		if v, ok := s.inputs.InputValue(n.InputID); ok {
			values[n.InputID] = v
		}
	}
	return values
}

func (s *Session) view() View {
	v := View{
		Phase:       s.phase,
		Message:     s.message,
		MessageKind: s.kind,
		Overlay:     len(s.overlays) > 0,
	}
	if s.payload == nil {
		return v
	}

	v.Theme = cards.FlattenTheme(s.payload.HostConfig)
	if s.payload.Definition == nil {
		v.FallbackText = s.payload.FallbackText
		return v
	}
	out, err := s.render()
	if err != nil {
		v.Message, v.MessageKind = msgLoadFailed, cards.MessageError
		return v
	}
	v.Output = out
	return v
}

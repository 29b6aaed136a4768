package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/qninhdt/gamepatch/internal/cards"
	"github.com/qninhdt/gamepatch/internal/game"
)

const greetingCard = `{
	"uid": "greeting",
	"definition": {
		"body": [
			{"type": "Text", "id": "hello", "text": "Hello {{ data.name }}"},
			{"type": "Input.Text", "id": "nickname"}
		],
		"actions": [
			{"type": "Action.Submit", "id": "save", "title": "Save"}
		]
	},
	"metadata": {"data": {"name": "Ada"}}
}`

const menuCard = `{
	"uid": "menu",
	"definition": {
		"body": [
			{"type": "Text", "id": "title", "text": "Menu"},
			{"type": "Text", "id": "extra", "text": "More"}
		],
		"actions": [
			{"type": "Action.Submit", "id": "next", "data": {"nextCard": "thanks"}},
			{"type": "Action.Submit", "id": "peek", "data": {"showCard": "thanks"}},
			{"type": "Action.Submit", "id": "wave", "data": {"execute": {"op": "wave"}}},
			{"type": "Action.OpenUrl", "id": "docs", "url": "https://docs.example", "data": {"openUrl": "https://docs.example"}},
			{"type": "Action.ToggleVisibility", "id": "more", "targetElements": ["extra"], "data": {"toggleVisibility": ["extra"]}},
			{"type": "Action.Submit", "id": "remote", "data": {"toggleVisibility": {"id": "extra", "isVisible": false}, "openUrl": "https://remote.example"}},
			{"type": "Action.Submit", "id": "broken", "data": {"nextCard": "nowhere"}},
			{"type": "Action.Submit", "id": "done", "data": {"complete": true}}
		]
	}
}`

const thanksCard = `{"uid": "thanks", "definition": {"body": [{"type": "Text", "id": "thanks", "text": "Thanks"}]}}`

const agreeDialogue = `
name: Agreement
dialogue:
  - CardNo: 1
    Text: "Do you agree?"
    Choices:
      - Choice: "yes"
        LeadsTo: 2
      - Choice: "no"
        LeadsTo: 3
  - CardNo: 2
    Text: Great.
    ending: true
  - CardNo: 3
    Text: Think again.
    Choices:
      - Choice: back
        LeadsTo: 1
      - Choice: bribe
        LeadsTo: 2
        Condition: currency.gold >= 5
`

func html(t *testing.T, s *Session) string {
	t.Helper()
	var buf bytes.Buffer
	if err := s.WriteHTML(&buf); err != nil {
		t.Fatalf("WriteHTML failed: %v", err)
	}
	return buf.String()
}

// TestSessionSubmit tests load, lazy instance creation and acknowledgement
func TestSessionSubmit(t *testing.T) {
	c, desk, store := newBackend(t)
	publish(t, desk, greetingCard)
	ctx := context.Background()

	s := NewSession(c, "greeting", Hints{}, testLogger())
	if s.Phase() != PhaseUnbound {
		t.Errorf("Expected unbound, got %s", s.Phase())
	}
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Phase() != PhaseBound {
		t.Errorf("Expected bound, got %s", s.Phase())
	}
	if out := html(t, s); !strings.Contains(out, "Hello Ada") {
		t.Errorf("Expected interpolated card, got %s", out)
	}

	s.SetInput("nickname", cards.Text("ada"))
	if err := s.Act(ctx, "save"); err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	if s.Phase() != PhaseActive {
		t.Errorf("Expected active, got %s", s.Phase())
	}
	v := s.View()
	if v.Message != msgSaved || v.MessageKind != cards.MessageAck {
		t.Errorf("Expected '%s', got '%s'", msgSaved, v.Message)
	}

	id := s.Payload().CardInstanceID
	responses, err := store.ListResponses(ctx, id)
	if err != nil || len(responses) != 1 {
		t.Fatalf("Expected 1 response, got %d (%v)", len(responses), err)
	}
	if responses[0].Inputs["nickname"] != "ada" {
		t.Errorf("Expected nickname input, got %v", responses[0].Inputs)
	}

	// A second action reuses the instance
	if err := s.Act(ctx, "save"); err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	if s.Payload().CardInstanceID != id {
		t.Error("Expected the same instance")
	}

	if err := s.Act(ctx, "nope"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("Expected ErrUnknownAction, got %v", err)
	}
}

// TestSessionLoadFailure tests the contained load error
func TestSessionLoadFailure(t *testing.T) {
	c, _, _ := newBackend(t)

	s := NewSession(c, "missing", Hints{}, testLogger())
	if err := s.Load(context.Background()); err == nil {
		t.Fatal("Expected load error")
	}
	if s.Phase() != PhaseUnbound {
		t.Errorf("Expected unbound, got %s", s.Phase())
	}
	if out := html(t, s); !strings.Contains(out, msgLoadFailed) {
		t.Errorf("Expected '%s', got %s", msgLoadFailed, out)
	}
	if err := s.Act(context.Background(), "save"); !errors.Is(err, ErrNoCard) {
		t.Errorf("Expected ErrNoCard, got %v", err)
	}
}

// TestSessionDirectives tests replacement, overlays, events and errors
func TestSessionDirectives(t *testing.T) {
	c, desk, _ := newBackend(t)
	publish(t, desk, menuCard)
	publish(t, desk, thanksCard)
	ctx := context.Background()

	s := NewSession(c, "menu", Hints{}, testLogger())
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := s.Act(ctx, "wave"); err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	events := s.Events().Drain()
	if len(events) != 1 || events[0].ActionID != "wave" || events[0].CardUID != "menu" {
		t.Errorf("Expected one wave event, got %v", events)
	}

	if err := s.Act(ctx, "broken"); err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	if v := s.View(); v.MessageKind != cards.MessageError || v.Message == "" || v.Output == nil {
		t.Errorf("Expected inline error over the card, got %+v", v)
	}
	if s.Payload().UID != "menu" {
		t.Errorf("Expected card unchanged, got %s", s.Payload().UID)
	}

	if err := s.Act(ctx, "peek"); err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	if v := s.View(); !v.Overlay || s.Payload().UID != "thanks" {
		t.Errorf("Expected thanks overlay, got %s", s.Payload().UID)
	}
	if !s.Back() || s.Payload().UID != "menu" {
		t.Error("Expected Back to restore menu")
	}
	if s.Back() {
		t.Error("Expected no overlay left")
	}

	if err := s.Act(ctx, "next"); err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	if p := s.Payload(); p.UID != "thanks" || p.CardInstanceID == "" {
		t.Errorf("Expected thanks with instance, got %+v", p)
	}
	if s.Back() {
		t.Error("Expected next card to replace, not overlay")
	}
}

// TestSessionNoDoubleFire tests that local effects are not repeated
func TestSessionNoDoubleFire(t *testing.T) {
	c, desk, _ := newBackend(t)
	publish(t, desk, menuCard)
	publish(t, desk, thanksCard)
	ctx := context.Background()

	s := NewSession(c, "menu", Hints{}, testLogger())
	var opened []string
	s.OpenURL = func(url string) { opened = append(opened, url) }
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := s.Act(ctx, "docs"); err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	if len(opened) != 1 || opened[0] != "https://docs.example" {
		t.Errorf("Expected one open, got %v", opened)
	}

	if err := s.Act(ctx, "more"); err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	if n := s.View().Output.Find("extra"); n == nil || !n.Hidden {
		t.Error("Expected extra hidden after a single toggle")
	}

	if err := s.Act(ctx, "remote"); err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	if len(opened) != 2 || opened[1] != "https://remote.example" {
		t.Errorf("Expected server open url, got %v", opened)
	}
	if n := s.View().Output.Find("extra"); n == nil || !n.Hidden {
		t.Error("Expected extra to stay hidden")
	}
}

// TestSessionToggle tests flip, explicit set and absent targets
func TestSessionToggle(t *testing.T) {
	c, desk, _ := newBackend(t)
	publish(t, desk, menuCard)

	s := NewSession(c, "menu", Hints{}, testLogger())
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if n := s.Toggle(cards.NormalizeTargets("extra")); n != 1 {
		t.Errorf("Expected 1 toggle, got %d", n)
	}
	if !s.View().Output.Find("extra").Hidden {
		t.Error("Expected extra hidden")
	}
	s.Toggle(cards.NormalizeTargets("extra"))
	if s.View().Output.Find("extra").Hidden {
		t.Error("Expected extra shown after second flip")
	}

	visible := true
	s.Toggle([]cards.ToggleTarget{{ID: "extra", IsVisible: &visible}})
	if s.View().Output.Find("extra").Hidden {
		t.Error("Expected explicit show to keep extra shown")
	}

	if n := s.Toggle(cards.NormalizeTargets("ghost")); n != 0 {
		t.Errorf("Expected absent id to be ignored, got %d", n)
	}
}

// TestSessionComplete tests terminal phases
func TestSessionComplete(t *testing.T) {
	c, desk, _ := newBackend(t)
	publish(t, desk, menuCard)
	ctx := context.Background()

	s := NewSession(c, "menu", Hints{}, testLogger())
	s.Load(ctx)
	if err := s.Act(ctx, "done"); err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	if s.Phase() != PhaseCompleted {
		t.Errorf("Expected completed, got %s", s.Phase())
	}

	if err := s.Act(ctx, "wave"); err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	if v := s.View(); v.MessageKind != cards.MessageError || v.Message == "" {
		t.Errorf("Expected ended message, got %+v", v)
	}
	if s.Events().HasEvents() {
		t.Error("Expected no event from an ended instance")
	}
}

// TestSessionScenario tests a dialogue walked through node cards
func TestSessionScenario(t *testing.T) {
	c, _, store := newBackend(t)
	ctx := context.Background()

	svc := game.NewScenarios(store, testLogger())
	if _, err := svc.Import(ctx, "agree.yaml", []byte(agreeDialogue), game.ImportOptions{UID: "agree"}); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if problems, err := svc.Publish(ctx, "agree"); err != nil || len(problems) != 0 {
		t.Fatalf("Publish failed: %v %v", err, problems)
	}

	s := NewSession(c, "agree-1", Hints{}, testLogger())
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := s.Act(ctx, "choice-2"); err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	p := s.Payload()
	if p.UID != "agree-3" {
		t.Fatalf("Expected agree-3, got %s", p.UID)
	}
	if len(p.Definition.Actions) != 1 {
		t.Errorf("Expected guarded choice filtered out, got %d actions", len(p.Definition.Actions))
	}
	if err := s.Act(ctx, "choice-2"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("Expected ErrUnknownAction for bribe, got %v", err)
	}

	if err := s.Act(ctx, "choice-1"); err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	if err := s.Act(ctx, "choice-1"); err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	if s.Payload().UID != "agree-2" || s.Phase() != PhaseCompleted {
		t.Errorf("Expected completed at agree-2, got %s %s", s.Payload().UID, s.Phase())
	}

	run, err := store.GetRunByInstance(ctx, s.Payload().CardInstanceID)
	if err != nil {
		t.Fatalf("GetRunByInstance failed: %v", err)
	}
	if run.Status != game.StatusCompleted || len(run.State.History) != 3 {
		t.Errorf("Expected completed run with 3 steps, got %s %d", run.Status, len(run.State.History))
	}
}

const stubCard = `{
	"uid": "stub",
	"cardInstanceId": "inst-1",
	"data": {"name": "ada"},
	"definition": {
		"body": [{"type": "Text", "id": "x", "text": "X"}],
		"actions": [
			{"type": "Action.Submit", "id": "send"},
			{"type": "Action.ToggleVisibility", "id": "flip"}
		]
	}
}`

// stubSession binds a session to stubCard against a server answering
// every respond call with handler
func stubSession(t *testing.T, handler http.HandlerFunc) (*Session, *[]string) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	var p cards.Payload
	if err := json.Unmarshal([]byte(stubCard), &p); err != nil {
		t.Fatalf("Failed to decode stub card: %v", err)
	}
	s := NewSession(New(ts.URL, WithRetryWait(time.Millisecond)), "stub", Hints{}, testLogger())
	s.ApplyPayload(&p)

	opened := &[]string{}
	s.OpenURL = func(url string) { *opened = append(*opened, url) }
	return s, opened
}

func answer(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

func hidden(s *Session, id string) bool {
	n := s.View().Output.Find(id)
	return n != nil && n.Hidden
}

// TestSessionServerErrorText tests that a rejected call shows the server's text
func TestSessionServerErrorText(t *testing.T) {
	s, _ := stubSession(t, answer(http.StatusConflict, `{"error": "Card instance is closed"}`))
	if err := s.Act(context.Background(), "send"); err == nil {
		t.Fatal("Expected error")
	}
	if v := s.View(); v.Message != "Card instance is closed" || v.MessageKind != cards.MessageError {
		t.Errorf("Expected server error text, got %+v", v)
	}

	s, _ = stubSession(t, answer(http.StatusBadGateway, ""))
	s.Act(context.Background(), "send")
	if v := s.View(); v.Message != msgResponseFailed {
		t.Errorf("Expected '%s', got '%s'", msgResponseFailed, v.Message)
	}
}

// TestSessionErrorSkipsDirectives tests that an action error changes nothing
// but the message
func TestSessionErrorSkipsDirectives(t *testing.T) {
	s, opened := stubSession(t, answer(http.StatusOK, `{"error": "nope", "toggleVisibility": "x", "openUrl": "https://elsewhere.example"}`))
	if err := s.Act(context.Background(), "send"); err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	if v := s.View(); v.Message != "nope" {
		t.Errorf("Expected 'nope', got '%s'", v.Message)
	}
	if hidden(s, "x") {
		t.Error("Expected x to stay shown")
	}
	if len(*opened) != 0 {
		t.Errorf("Expected nothing opened, got %v", *opened)
	}
}

// TestSessionToggleWithoutTargets tests that a toggle action with no targets
// still applies the server's toggle
func TestSessionToggleWithoutTargets(t *testing.T) {
	s, _ := stubSession(t, answer(http.StatusOK, `{"toggleVisibility": "x"}`))
	if err := s.Act(context.Background(), "flip"); err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	if !hidden(s, "x") {
		t.Error("Expected x hidden by the server toggle")
	}
}

// TestSessionOpenURLTemplate tests interpolation of the server's url
func TestSessionOpenURLTemplate(t *testing.T) {
	s, opened := stubSession(t, answer(http.StatusOK, `{"openUrl": "https://docs.example/{{ data.name }}"}`))
	if err := s.Act(context.Background(), "send"); err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	if len(*opened) != 1 || (*opened)[0] != "https://docs.example/ada" {
		t.Errorf("Expected interpolated url, got %v", *opened)
	}
}

// TestSessionBusy tests that one action is in flight at a time and that
// the guard clears after a failure
func TestSessionBusy(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	s, _ := stubSession(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		w.WriteHeader(http.StatusBadGateway)
	})

	done := make(chan error, 1)
	go func() { done <- s.Act(context.Background(), "send") }()
	<-entered

	if err := s.Act(context.Background(), "send"); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy, got %v", err)
	}

	close(release)
	if err := <-done; err == nil {
		t.Error("Expected first action to fail")
	}

	if err := s.Act(context.Background(), "send"); err == nil || errors.Is(err, ErrBusy) {
		t.Errorf("Expected a failed round trip after the guard cleared, got %v", err)
	}
}

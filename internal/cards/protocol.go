package cards

// Payload is what a card fetch returns. Exactly one of Definition and
// FallbackText is set.
type Payload struct {
	UID            string         `json:"uid"`
	CardInstanceID string         `json:"cardInstanceId,omitempty"`
	Data           map[string]any `json:"data"`
	Context        map[string]any `json:"context"`
	State          map[string]any `json:"state"`
	HostConfig     map[string]any `json:"hostConfig,omitempty"`
	Definition     *Definition    `json:"definition,omitempty"`
	FallbackText   string         `json:"fallbackText,omitempty"`
}

// ActionRef identifies the action a response was triggered by
type ActionRef struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type,omitempty"`
	Data any    `json:"data,omitempty"`
}

// ResponsePayload carries the user's action and collected inputs
type ResponsePayload struct {
	CardID  string         `json:"cardId"`
	Action  ActionRef      `json:"action"`
	Inputs  map[string]any `json:"inputs"`
	Context map[string]any `json:"context"`
}

// RespondRequest is the body of a respond call
type RespondRequest struct {
	ResponsePayload ResponsePayload `json:"responsePayload"`
	CardInstanceID  string          `json:"cardInstanceId"`
}

// InstanceCreated is the body returned by instance creation
type InstanceCreated struct {
	CardInstanceID string `json:"cardInstanceId"`
}

// RespondResult is the server's answer to a response. At most one of
// Error, NextCard, ShowCard and Execute drives the outcome; none of them
// means the response was simply recorded.
type RespondResult struct {
	Error            string   `json:"error,omitempty"`
	NextCard         *Payload `json:"nextCard,omitempty"`
	ShowCard         *Payload `json:"showCard,omitempty"`
	Execute          any      `json:"execute,omitempty"`
	OpenURL          string   `json:"openUrl,omitempty"`
	ToggleVisibility any      `json:"toggleVisibility,omitempty"`
	InstanceStatus   string   `json:"instanceStatus,omitempty"`
}

// Acknowledged reports whether the result only confirms the response
func (r *RespondResult) Acknowledged() bool {
	return r.Error == "" && r.NextCard == nil && r.ShowCard == nil && r.Execute == nil
}

// ToggleTarget names an element to show, hide or flip. A nil IsVisible
// flips the current display.
type ToggleTarget struct {
	ID        string `json:"id"`
	IsVisible *bool  `json:"isVisible,omitempty"`
}

// NormalizeTargets accepts a single id, a list of ids and/or objects, or a
// single object with id or elementId, and returns the targets in order.
// Entries without a usable id are dropped.
func NormalizeTargets(targets any) []ToggleTarget {
	switch t := targets.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		return []ToggleTarget{{ID: t}}
	case []string:
		out := make([]ToggleTarget, 0, len(t))
		for _, id := range t {
			if id != "" {
				out = append(out, ToggleTarget{ID: id})
			}
		}
		return out
	case []ToggleTarget:
		return t
	case []any:
		out := make([]ToggleTarget, 0, len(t))
		for _, item := range t {
			switch v := item.(type) {
			case string:
				if v != "" {
					out = append(out, ToggleTarget{ID: v})
				}
			case map[string]any:
				if target, ok := objectTarget(v); ok {
					out = append(out, target)
				}
			}
		}
		return out
	case map[string]any:
		if target, ok := objectTarget(t); ok {
			return []ToggleTarget{target}
		}
	}
	return nil
}

func objectTarget(m map[string]any) (ToggleTarget, bool) {
	id := ""
	if v, ok := m["elementId"]; ok && Truthy(v, true) {
		id = Stringify(v)
	} else if v, ok := m["id"]; ok && Truthy(v, true) {
		id = Stringify(v)
	}
	if id == "" {
		return ToggleTarget{}, false
	}

	target := ToggleTarget{ID: id}
	if v, ok := m["isVisible"]; ok {
		visible := Truthy(v, true)
		target.IsVisible = &visible
	}
	return target, true
}

package cards

// Visible decides whether an element is shown. An explicit isVisible of
// false always hides; otherwise a missing or falsy when shows it.
func (s Scope) Visible(base *ElementBase) bool {
	if base == nil {
		return false
	}
	if base.IsVisible != nil && !*base.IsVisible {
		return false
	}
	if !Truthy(base.When, base.When != nil) {
		return true
	}
	return s.Evaluate(base.When)
}

// Evaluate tests a visibility condition. A string condition is an
// expression that must resolve truthy. An object condition names a value
// with one of input, context, state or key and then compares it with
// equals, in, or present. Anything else is false.
func (s Scope) Evaluate(cond any) bool {
	switch c := cond.(type) {
	case string:
		return Truthy(s.Resolve(c))
	case map[string]any:
		return s.evaluateStructured(c)
	}
	return false
}

func (s Scope) evaluateStructured(c map[string]any) bool {
	var (
		value any
		found bool
	)
	// Later keys override earlier ones: key beats state beats context
	// beats input.
	if name, ok := c["input"]; ok && Truthy(name, true) {
		value, found = s.Resolve(prefixInput + Stringify(name))
	}
	if name, ok := c["context"]; ok && Truthy(name, true) {
		value, found = s.Resolve(prefixContext + Stringify(name))
	}
	if name, ok := c["state"]; ok && Truthy(name, true) {
		value, found = s.Resolve(prefixState + Stringify(name))
	}
	if name, ok := c["key"]; ok && Truthy(name, true) {
		value, found = s.Resolve(Stringify(name))
	}

	valueString := displayString(value, found)
	present := found && value != nil
	if str, ok := value.(string); ok && str == "" {
		present = false
	}

	if equals, ok := c["equals"]; ok {
		return valueString == Stringify(equals)
	}
	if in, ok := c["in"]; ok && Truthy(in, true) {
		list, ok := in.([]any)
		if !ok {
			return false
		}
		for _, item := range list {
			if Stringify(item) == valueString {
				return true
			}
		}
		return false
	}
	if want, ok := c["present"]; ok {
		return present == Truthy(want, true)
	}
	return present
}

package cards

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed card.schema.json
var cardSchemaJSON []byte

var (
	cardSchemaOnce sync.Once
	cardSchema     *sjsonschema.Schema
	cardSchemaErr  error
)

// SchemaError is one structural problem found in a card definition
type SchemaError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e *SchemaError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func compiledCardSchema() (*sjsonschema.Schema, error) {
	cardSchemaOnce.Do(func() {
		var doc interface{}
		if err := json.Unmarshal(cardSchemaJSON, &doc); err != nil {
			cardSchemaErr = fmt.Errorf("unmarshal card schema: %w", err)
			return
		}
		c := sjsonschema.NewCompiler()
		if err := c.AddResource("card-definition.json", doc); err != nil {
			cardSchemaErr = fmt.Errorf("add card schema resource: %w", err)
			return
		}
		cardSchema, cardSchemaErr = c.Compile("card-definition.json")
	})
	return cardSchema, cardSchemaErr
}

// ValidateDefinitionJSON checks a raw definition against the card schema.
// An empty result means the definition is structurally valid.
func ValidateDefinitionJSON(data []byte) []*SchemaError {
	sch, err := compiledCardSchema()
	if err != nil {
		return []*SchemaError{{Message: fmt.Sprintf("compile schema: %v", err)}}
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return []*SchemaError{{Message: fmt.Sprintf("unmarshal definition: %v", err)}}
	}

	if err := sch.Validate(doc); err != nil {
		ve, ok := err.(*sjsonschema.ValidationError)
		if !ok {
			return []*SchemaError{{Message: err.Error()}}
		}
		var errs []*SchemaError
		for _, cause := range flattenValidationErrors(ve) {
			errs = append(errs, &SchemaError{
				Path:    "/" + strings.Join(cause.InstanceLocation, "/"),
				Message: fmt.Sprintf("%v", cause.ErrorKind),
			})
		}
		return errs
	}
	return nil
}

func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

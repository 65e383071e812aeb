// Package capability checks a routed intent against the executable-surface
// schema before dispatch. An explicit invalid verdict blocks execution; a
// validator internal error never does: the coordinator logs it and
// proceeds.
package capability

import (
	"context"

	"github.com/xeipuuv/gojsonschema"

	"intentflow/internal/common/logger"
)

// Input is the capability slice of a routed intent.
type Input struct {
	Kind      string  `json:"kind"`
	Chain     string  `json:"chain"`
	Venue     string  `json:"venue,omitempty"`
	Asset     string  `json:"asset,omitempty"`
	AmountUSD float64 `json:"amountUsd"`
	Leverage  float64 `json:"leverage,omitempty"`
}

// Verdict is the validation outcome. Warnings never block.
type Verdict struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Validator is the capability-validation collaborator contract. A non-nil
// error means the validator itself failed, not that the input is invalid.
type Validator interface {
	Validate(ctx context.Context, input Input) (*Verdict, error)
}

// capabilitySchema bounds what the execution surface accepts. Leverage and
// amount ceilings here are hard caps, not policy thresholds.
const capabilitySchema = `{
	"type": "object",
	"required": ["kind", "chain"],
	"properties": {
		"kind": {
			"type": "string",
			"enum": ["perp", "perp_create", "deposit", "swap", "bridge", "event", "unknown"]
		},
		"chain":    {"type": "string", "minLength": 1},
		"venue":    {"type": "string"},
		"asset":    {"type": "string", "maxLength": 16},
		"amountUsd": {"type": "number", "minimum": 0, "maximum": 100000000},
		"leverage":  {"type": "number", "minimum": 0, "maximum": 100}
	}
}`

// SchemaValidator validates against the embedded JSON schema.
type SchemaValidator struct {
	schema *gojsonschema.Schema
	log    logger.Logger
}

// NewSchemaValidator compiles the capability schema.
func NewSchemaValidator(log logger.Logger) (*SchemaValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(capabilitySchema))
	if err != nil {
		return nil, err
	}
	return &SchemaValidator{schema: schema, log: log}, nil
}

// Validate checks the input against the schema.
func (v *SchemaValidator) Validate(_ context.Context, input Input) (*Verdict, error) {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return nil, err
	}

	verdict := &Verdict{Valid: result.Valid()}
	if !result.Valid() {
		verdict.Errors = make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			verdict.Errors[i] = desc.String()
		}
	}
	if input.AmountUSD == 0 && input.Kind != "unknown" && input.Kind != "event" {
		verdict.Warnings = append(verdict.Warnings, "no usd estimate for executable intent")
	}
	return verdict, nil
}

package tools

import "encoding/json"

// AnyJSONCodec is a pre-built codec for the `any` type. It uses standard JSON
// marshaling/unmarshaling and is suitable for integrations where the concrete
// type is not known at compile time.
var AnyJSONCodec = JSONCodec[any]{
	ToJSON: json.Marshal,
	FromJSON: func(data []byte) (any, error) {
		if len(data) == 0 {
			return nil, nil
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	},
}

// RiskLevel classifies how dangerous a Core Tool's effects are. Rule
// selectors (by_risk) key off this classification.
type RiskLevel string

const (
	RiskSafe      RiskLevel = "safe"
	RiskCaution   RiskLevel = "caution"
	RiskDangerous RiskLevel = "dangerous"
	RiskForbidden RiskLevel = "forbidden"
)

type (
	// ExecuteFunc invokes a Core Tool's handler with the decoded payload,
	// returning the raw JSON result or an error. Handlers never panic; any
	// recovered failure is surfaced through toolerrors.
	ExecuteFunc func(ctx any, payload json.RawMessage) (json.RawMessage, error)

	// ToolSpec registers a Core Tool: the unit of capability an agent loop may
	// invoke, gated by the policy engine on every call.
	ToolSpec struct {
		// Name is the globally unique tool identifier.
		Name Ident
		// Category groups related tools for by_category rule selectors
		// (e.g. "wallet", "filesystem", "inference", "messaging").
		Category string
		// RiskLevel classifies the tool for by_risk rule selectors.
		RiskLevel RiskLevel
		// Description provides human-readable context for planners and tooling.
		Description string
		// Tags carries optional metadata labels used by policy or UI layers.
		Tags []string
		// Payload describes the request schema for the tool.
		Payload TypeSpec
		// Result describes the response schema for the tool.
		Result TypeSpec
		// Execute is the handler invoked once the policy engine allows the call.
		Execute ExecuteFunc
	}

	// TypeSpec describes the payload or result schema for a tool.
	TypeSpec struct {
		// Name is the Go identifier associated with the type.
		Name string
		// Schema contains the JSON schema definition. NewRegistry stores it
		// as given; it is not validated at registration time.
		Schema []byte
		// ExampleJSON optionally contains a canonical example JSON document for
		// this type, surfaced in retry hints to guide callers toward a
		// schema-compliant shape.
		ExampleJSON []byte
		// Codec serializes and deserializes values matching the type.
		Codec JSONCodec[any]
	}

	// JSONCodec serializes and deserializes strongly typed values to and from JSON.
	JSONCodec[T any] struct {
		// ToJSON encodes the value into canonical JSON.
		ToJSON func(T) ([]byte, error)
		// FromJSON decodes the JSON payload into the typed value.
		FromJSON func([]byte) (T, error)
	}
)

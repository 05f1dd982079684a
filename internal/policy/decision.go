package policy

import "github.com/sentrycore/sentinel/internal/tools"

// Decision is the outcome of one full policy evaluation.
type Decision struct {
	Action         Action
	ReasonCode     string
	HumanMessage   string
	RulesEvaluated []string
	RulesTriggered []string
	ArgsHash       string
	ToolName       tools.Ident
	RiskLevel      tools.RiskLevel
	LatencyMs      int64
}

// Reason codes produced directly by the engine, outside the rule catalogue.
const (
	ReasonAllowed         = "ALLOWED"
	ReasonUnknownTool     = "UNKNOWN_TOOL"
	ReasonRuleError       = "RULE_ERROR"
	ReasonDBUnavailable   = "DB_UNAVAILABLE"
)

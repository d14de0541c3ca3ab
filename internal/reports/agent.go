package reports

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AgentType identifies one of the twelve pipeline roles that produce a report.
type AgentType int

const (
	MarketAnalyst AgentType = iota + 1
	NewsAnalyst
	FundamentalsAnalyst
	SocialAnalyst
	BullResearcher
	BearResearcher
	ResearchManager
	Trader
	RiskyAnalyst
	NeutralAnalyst
	SafeAnalyst
	PortfolioManager
)

type agentInfo struct {
	name   string
	column string
	key    string
}

var agentTable = map[AgentType]agentInfo{
	MarketAnalyst:       {"Market Analyst", "market_analyst_report", "market"},
	NewsAnalyst:         {"News Analyst", "news_analyst_report", "news"},
	FundamentalsAnalyst: {"Fundamentals Analyst", "fundamentals_analyst_report", "fundamentals"},
	SocialAnalyst:       {"Social Analyst", "social_analyst_report", "sentiment"},
	BullResearcher:      {"Bull Researcher", "bull_researcher_report", "bull"},
	BearResearcher:      {"Bear Researcher", "bear_researcher_report", "bear"},
	ResearchManager:     {"Research Manager", "research_manager_report", "research_manager"},
	Trader:              {"Trader", "trader_report", "trader"},
	RiskyAnalyst:        {"Risky Analyst", "risky_analyst_report", "risky"},
	NeutralAnalyst:      {"Neutral Analyst", "neutral_analyst_report", "neutral"},
	SafeAnalyst:         {"Safe Analyst", "safe_analyst_report", "safe"},
	PortfolioManager:    {"Portfolio Manager", "portfolio_manager_report", "portfolio_manager"},
}

// legacy keys used by older dashboard builds
var keyAliases = map[string]AgentType{
	"investment": BullResearcher,
	"final":      RiskyAnalyst,
}

// AllAgentTypes returns every role in pipeline order.
func AllAgentTypes() []AgentType {
	out := make([]AgentType, 0, len(agentTable))
	for a := MarketAnalyst; a <= PortfolioManager; a++ {
		out = append(out, a)
	}
	return out
}

// ReportColumns returns the report column names in pipeline order.
func ReportColumns() []string {
	all := AllAgentTypes()
	cols := make([]string, len(all))
	for i, a := range all {
		cols[i] = a.Column()
	}
	return cols
}

// Valid reports whether a is one of the known roles.
func (a AgentType) Valid() bool {
	_, ok := agentTable[a]
	return ok
}

// String returns the display name, e.g. "Market Analyst".
func (a AgentType) String() string {
	if info, ok := agentTable[a]; ok {
		return info.name
	}
	return fmt.Sprintf("AgentType(%d)", int(a))
}

// Column returns the agent_reports column that stores this role's report.
func (a AgentType) Column() string {
	return agentTable[a].column
}

// Key returns the short identifier used in HTTP routes.
func (a AgentType) Key() string {
	return agentTable[a].key
}

func (a AgentType) MarshalJSON() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("marshal invalid agent type %d", int(a))
	}
	return json.Marshal(a.String())
}

func (a *AgentType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseAgentType(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAgentType resolves a display name such as "Trader" to its AgentType.
func ParseAgentType(name string) (AgentType, error) {
	for a, info := range agentTable {
		if info.name == name {
			return a, nil
		}
	}
	return 0, &ValidationError{Field: "agent_type", Reason: fmt.Sprintf("invalid agent type %q", name)}
}

// ValidAgentType reports whether name is a known role display name.
func ValidAgentType(name string) bool {
	_, err := ParseAgentType(name)
	return err == nil
}

// ColumnFor maps a role display name to its column.
func ColumnFor(name string) (string, error) {
	a, err := ParseAgentType(name)
	if err != nil {
		return "", err
	}
	return a.Column(), nil
}

// AgentTypeFromKey resolves a route key ("market", "trader", ...) or a display
// name to an AgentType. Matching is case-insensitive.
func AgentTypeFromKey(key string) (AgentType, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	for a, info := range agentTable {
		if info.key == k || strings.ToLower(info.name) == k {
			return a, nil
		}
	}
	if a, ok := keyAliases[k]; ok {
		return a, nil
	}
	return 0, &ValidationError{Field: "agent", Reason: fmt.Sprintf("unknown agent %q", key)}
}

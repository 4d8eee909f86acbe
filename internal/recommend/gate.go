package recommend

import (
	"errors"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Gate maps incident signatures to known remediation actions. The action
// table is an external collaborator; an absent table means no proposals.
type Gate struct {
	rules              []ActionRule
	recommendThreshold float64
	autoApplyThreshold float64
	logger             *slog.Logger
}

// ActionRule binds a signature pattern to ranked remediation actions.
type ActionRule struct {
	ID      string       `yaml:"id"`
	Match   RuleMatch    `yaml:"match"`
	Actions []ActionSpec `yaml:"actions"`
}

// RuleMatch defines optional attributes for rule matching. Empty fields
// match everything.
type RuleMatch struct {
	Label               string   `yaml:"label"`
	SourceGroupContains []string `yaml:"source_group_contains"`
}

// ActionSpec is one remediation action with its match weight and automation
// safety flag.
type ActionSpec struct {
	Action      string  `yaml:"action"`
	Weight      float64 `yaml:"weight"`
	SafeForAuto bool    `yaml:"safe_for_auto"`
}

// ActionConfigFile is the YAML root structure.
type ActionConfigFile struct {
	Rules []ActionRule `yaml:"rules"`
}

// NewGate loads the action table from path. An empty or missing path yields
// a nil gate, which proposes nothing.
func NewGate(path string, recommendThreshold, autoApplyThreshold float64, logger *slog.Logger) (*Gate, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cfg ActionConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if autoApplyThreshold < recommendThreshold {
		autoApplyThreshold = recommendThreshold
	}
	return &Gate{
		rules:              cfg.Rules,
		recommendThreshold: recommendThreshold,
		autoApplyThreshold: autoApplyThreshold,
		logger:             logger,
	}, nil
}

// NewGateFromRules builds a gate directly from in-memory rules.
func NewGateFromRules(rules []ActionRule, recommendThreshold, autoApplyThreshold float64, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if autoApplyThreshold < recommendThreshold {
		autoApplyThreshold = recommendThreshold
	}
	return &Gate{
		rules:              rules,
		recommendThreshold: recommendThreshold,
		autoApplyThreshold: autoApplyThreshold,
		logger:             logger,
	}
}

// Propose resolves the best action for the incident's signature. It returns
// false when no rule matches or the weighted confidence stays at or below
// the recommend threshold; an unmatched signature is not an error.
func (g *Gate) Propose(incident models.Incident) (models.RemediationProposal, bool) {
	if g == nil {
		return models.RemediationProposal{}, false
	}

	label := labelFromSignature(incident.Signature)
	var best ActionSpec
	var bestConfidence float64
	found := false

	for _, rule := range g.rules {
		if rule.Match.Label != "" && !strings.EqualFold(rule.Match.Label, label) {
			continue
		}
		if len(rule.Match.SourceGroupContains) > 0 && !groupContains(rule.Match.SourceGroupContains, incident.SourceGroup) {
			continue
		}
		for _, action := range ranked(rule.Actions) {
			confidence := incident.AggregateConfidence * action.Weight
			if !found || confidence > bestConfidence {
				best = action
				bestConfidence = confidence
				found = true
			}
		}
	}

	if !found || bestConfidence <= g.recommendThreshold {
		return models.RemediationProposal{}, false
	}

	proposal := models.RemediationProposal{
		IncidentID: incident.ID,
		Action:     best.Action,
		Confidence: bestConfidence,
		AutoApply:  best.SafeForAuto && bestConfidence > g.autoApplyThreshold,
		CreatedAt:  time.Now().UTC(),
	}
	g.logger.Debug("remediation proposal gated",
		slog.String("incident_id", incident.ID),
		slog.String("action", proposal.Action),
		slog.Float64("confidence", proposal.Confidence),
		slog.Bool("auto_apply", proposal.AutoApply),
	)
	return proposal, true
}

func ranked(actions []ActionSpec) []ActionSpec {
	out := make([]ActionSpec, 0, len(actions))
	for _, action := range actions {
		if action.Action == "" || action.Weight <= 0 {
			continue
		}
		out = append(out, action)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out
}

// labelFromSignature recovers the classification label prefix from a
// "label:hash" incident signature.
func labelFromSignature(signature string) string {
	if idx := strings.IndexByte(signature, ':'); idx > 0 {
		return signature[:idx]
	}
	return signature
}

func groupContains(keywords []string, group string) bool {
	lowered := strings.ToLower(group)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lowered, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

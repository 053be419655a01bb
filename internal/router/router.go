// Package router deterministically picks a model for a capability request:
// filter the registry, walk the policy rules, fall back to cheapest.
package router

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoCandidate means the filters left nothing to choose from. This is a
// configuration error and is raised, unlike every other router outcome.
var ErrNoCandidate = errors.New("no model satisfies the request filters")

// FallbackRule is the rule name reported when no policy rule matched.
const FallbackRule = "__fallback"

// Model is one registry entry.
type Model struct {
	ID           string   `json:"id" yaml:"id"`
	Provider     string   `json:"provider" yaml:"provider"`
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
	Local        bool     `json:"local" yaml:"local"`
	EstCostUSD   float64  `json:"est_cost_usd" yaml:"est_cost_usd"`
}

func (m Model) Has(capability string) bool {
	for _, c := range m.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// When is a rule's match clause. Empty fields match anything.
type When struct {
	Capability string `json:"capability,omitempty" yaml:"capability"`
	Privacy    string `json:"privacy,omitempty" yaml:"privacy"`
}

// Rule prefers an ordered list of models when its clause matches.
type Rule struct {
	Name   string   `json:"name" yaml:"name"`
	When   When     `json:"when" yaml:"when"`
	Prefer []string `json:"prefer" yaml:"prefer"`
}

// Policy is the model registry plus the ordered rule list.
type Policy struct {
	Models []Model `json:"models" yaml:"models"`
	Rules  []Rule  `json:"rules,omitempty" yaml:"rules"`
}

// LoadPolicy reads a YAML (or JSON) policy document.
func LoadPolicy(path string) (*Policy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Policy
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("router policy %s: %w", path, err)
	}
	return &p, nil
}

// Request describes what the caller needs. Privacy "local" restricts to
// local models; anything else allows the whole registry.
type Request struct {
	Capability string
	Privacy    string
	MaxCostUSD float64
	Providers  []string
	Models     []string
}

// Decision explains a selection.
type Decision struct {
	Model      Model    `json:"model"`
	Rule       string   `json:"rule"`
	Reason     string   `json:"reason"`
	Candidates int      `json:"candidates"`
	Filters    []string `json:"filters"`
}

// Select picks a model. Filtering happens first; an empty survivor set is
// ErrNoCandidate. Then the first matching rule's preference order decides,
// and without a matching rule the cheapest survivor (id ascending on ties)
// wins.
func (p *Policy) Select(req Request) (*Decision, error) {
	if strings.TrimSpace(req.Capability) == "" {
		return nil, fmt.Errorf("router request missing capability")
	}
	var filters []string
	filters = append(filters, "capability="+req.Capability)
	if req.Privacy != "" {
		filters = append(filters, "privacy="+req.Privacy)
	}
	if req.MaxCostUSD > 0 {
		filters = append(filters, fmt.Sprintf("max_cost_usd=%g", req.MaxCostUSD))
	}
	if len(req.Providers) > 0 {
		filters = append(filters, "providers="+strings.Join(req.Providers, ","))
	}
	if len(req.Models) > 0 {
		filters = append(filters, "models="+strings.Join(req.Models, ","))
	}

	var survivors []Model
	for _, m := range p.Models {
		if !m.Has(req.Capability) {
			continue
		}
		if req.Privacy == "local" && !m.Local {
			continue
		}
		if req.MaxCostUSD > 0 && m.EstCostUSD > req.MaxCostUSD {
			continue
		}
		if len(req.Providers) > 0 && !containsString(req.Providers, m.Provider) {
			continue
		}
		if len(req.Models) > 0 && !containsString(req.Models, m.ID) {
			continue
		}
		survivors = append(survivors, m)
	}
	if len(survivors) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoCandidate, strings.Join(filters, " "))
	}

	for _, rule := range p.Rules {
		if rule.When.Capability != "" && rule.When.Capability != req.Capability {
			continue
		}
		if rule.When.Privacy != "" && rule.When.Privacy != req.Privacy {
			continue
		}
		for _, preferred := range rule.Prefer {
			for _, m := range survivors {
				if m.ID == preferred {
					return &Decision{
						Model:      m,
						Rule:       rule.Name,
						Reason:     fmt.Sprintf("rule %s preferred %s", rule.Name, m.ID),
						Candidates: len(survivors),
						Filters:    filters,
					}, nil
				}
			}
		}
		// A matching rule with no surviving preference falls through to the
		// next rule rather than the caller losing the whole selection.
	}

	sort.Slice(survivors, func(i, j int) bool {
		if survivors[i].EstCostUSD != survivors[j].EstCostUSD {
			return survivors[i].EstCostUSD < survivors[j].EstCostUSD
		}
		return survivors[i].ID < survivors[j].ID
	})
	chosen := survivors[0]
	return &Decision{
		Model:      chosen,
		Rule:       FallbackRule,
		Reason:     fmt.Sprintf("no rule matched; cheapest surviving model is %s", chosen.ID),
		Candidates: len(survivors),
		Filters:    filters,
	}, nil
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

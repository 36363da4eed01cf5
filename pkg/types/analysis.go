// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "encoding/json"

// AnalysisStrategy selects how a document is fed to the model based on its
// size relative to the context window.
type AnalysisStrategy string

const (
	StrategyDirect    AnalysisStrategy = "direct"
	StrategyRefine    AnalysisStrategy = "refine"
	StrategyMapReduce AnalysisStrategy = "map_reduce"
)

// Analysis is the structured output of analyzing one paper. Every field is
// populated by the model and validated against the analysis JSON schema
// before it is accepted.
type Analysis struct {
	// Summary is a few-paragraph prose summary of the paper.
	Summary string `json:"summary" yaml:"summary"`

	// Contributions lists the paper's claimed contributions.
	Contributions []string `json:"contributions" yaml:"contributions"`

	// Methods lists the techniques and experimental setups used.
	Methods []string `json:"methods" yaml:"methods"`

	// Findings lists the main results, preserving reported numbers.
	Findings []string `json:"findings" yaml:"findings"`

	// Limitations lists weaknesses the paper acknowledges or implies.
	Limitations []string `json:"limitations" yaml:"limitations"`

	// FutureWork lists follow-on directions the paper proposes.
	FutureWork []string `json:"future_work" yaml:"future_work"`

	// Topics are lowercase, hyphenated topic labels drawn from the
	// paper's vocabulary.
	Topics []string `json:"topics" yaml:"topics"`

	// Extensions holds schema-defined fields beyond the base set. They
	// round-trip through JSON as extra top-level keys and render as extra
	// note sections.
	Extensions map[string]any `json:"-" yaml:"-"`
}

// baseAnalysisFields is the JSON key set owned by the fixed fields above.
var baseAnalysisFields = map[string]bool{
	"summary":       true,
	"contributions": true,
	"methods":       true,
	"findings":      true,
	"limitations":   true,
	"future_work":   true,
	"topics":        true,
}

// analysisAlias avoids method recursion in the custom JSON round-trip.
type analysisAlias Analysis

// MarshalJSON inlines extension fields as top-level keys alongside the
// base fields.
func (a Analysis) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(analysisAlias(a))
	if err != nil {
		return nil, err
	}
	if len(a.Extensions) == 0 {
		return base, nil
	}

	var m map[string]any
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	for k, v := range a.Extensions {
		if !baseAnalysisFields[k] {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// UnmarshalJSON captures unknown top-level keys into Extensions.
func (a *Analysis) UnmarshalJSON(data []byte) error {
	var tmp analysisAlias
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if baseAnalysisFields[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		if tmp.Extensions == nil {
			tmp.Extensions = make(map[string]any)
		}
		tmp.Extensions[k] = val
	}

	*a = Analysis(tmp)
	return nil
}

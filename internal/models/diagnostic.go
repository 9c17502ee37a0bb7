package models

import "time"

type SubTest struct {
	Name   string `json:"name"`
	Result string `json:"result"`
}

// FingerprintScore is the bot risk reported by the fingerprint scan page.
// A nil Value means the page never showed a score.
type FingerprintScore struct {
	Value         *int      `json:"value"`
	FingerprintID string    `json:"fingerprint_id,omitempty"`
	SubTests      []SubTest `json:"sub_tests,omitempty"`
}

func (s *FingerprintScore) Inconclusive() bool {
	return s == nil || s.Value == nil
}

type EntropyCategory struct {
	Label          string  `json:"label"`
	Description    string  `json:"description"`
	UniquenessOdds float64 `json:"uniqueness_odds"`
	Elevated       bool    `json:"elevated"`
}

// EntropyReport holds the per category uniqueness odds ("1 in N browsers
// share this value"). OverallMeasured is false when the overall odds are the
// 1.0 no-signal sentinel rather than a value read from the page.
type EntropyReport struct {
	Assessment            string            `json:"assessment"`
	AdBlockStatus         string            `json:"ad_block_status"`
	TrackerBlockStatus    string            `json:"tracker_block_status"`
	Categories            []EntropyCategory `json:"categories"`
	OverallUniquenessOdds float64           `json:"overall_uniqueness_odds"`
	OverallMeasured       bool              `json:"overall_measured"`
}

func (r *EntropyReport) ElevatedCategories() []EntropyCategory {
	var elevated []EntropyCategory
	for _, c := range r.Categories {
		if c.Elevated {
			elevated = append(elevated, c)
		}
	}
	return elevated
}

type DiagnosticReport struct {
	Webdriver   *bool             `json:"webdriver,omitempty"`
	Fingerprint *FingerprintScore `json:"fingerprint,omitempty"`
	Entropy     *EntropyReport    `json:"entropy,omitempty"`
	RanAt       time.Time         `json:"ran_at"`
}

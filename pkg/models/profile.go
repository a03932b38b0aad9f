package models

import "time"

// GlobalDomain aggregates tool statistics across all domains and serves as the
// fallback when a specific (tool, domain) pair has no history.
const GlobalDomain = "_global"

// MaxFailureModes bounds the recent-failure deque on each profile.
const MaxFailureModes = 10

// ToolProfile accumulates outcome statistics for one (tool × domain) pair.
type ToolProfile struct {
	Tool            string    `json:"tool"`
	Domain          string    `json:"domain"`
	TotalCalls      int64     `json:"total_calls"`
	SuccessfulCalls int64     `json:"successful_calls"`
	FailedCalls     int64     `json:"failed_calls"`
	FailureModes    []string  `json:"failure_modes,omitempty"`
	AvgLatencyMS    float64   `json:"avg_latency_ms"`
	UsefulnessScore float64   `json:"usefulness_score"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RecordCall folds one outcome into the profile's running statistics.
func (p *ToolProfile) RecordCall(success bool, latencyMS float64, failureMode string) {
	p.TotalCalls++
	if success {
		p.SuccessfulCalls++
	} else {
		p.FailedCalls++
		if failureMode != "" {
			p.FailureModes = append(p.FailureModes, failureMode)
			if len(p.FailureModes) > MaxFailureModes {
				p.FailureModes = p.FailureModes[len(p.FailureModes)-MaxFailureModes:]
			}
		}
	}
	// Incremental mean keeps the running average exact without history.
	p.AvgLatencyMS += (latencyMS - p.AvgLatencyMS) / float64(p.TotalCalls)
	p.UpdatedAt = time.Now().UTC()
}

// SuccessRate returns successful/total, or zero with no recorded calls.
func (p *ToolProfile) SuccessRate() float64 {
	if p.TotalCalls == 0 {
		return 0
	}
	return float64(p.SuccessfulCalls) / float64(p.TotalCalls)
}

// Clone returns a copy safe to hand to readers.
func (p *ToolProfile) Clone() *ToolProfile {
	out := *p
	out.FailureModes = append([]string(nil), p.FailureModes...)
	return &out
}

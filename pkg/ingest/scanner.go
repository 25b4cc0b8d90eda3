// Package ingest turns operational logs into observation tasks. A scanner
// reads log lines, groups anomalies into suggestions, and a worker submits
// each suggestion into the lifecycle as an observation task. Scanning is
// deterministic: the same log content always yields the same suggestions.
package ingest

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Suggestion is one anomaly group distilled from a log scan.
type Suggestion struct {
	Title             string `json:"title"`
	Description       string `json:"description"`
	Severity          string `json:"severity"` // low | medium | high
	RecommendedAction string `json:"recommended_action"`
}

// levelRule maps a log level marker to a suggestion template.
type levelRule struct {
	marker   string
	title    string
	action   string
	severity string
	// burstAt escalates severity to high at this many occurrences.
	burstAt int
}

// Rules are ordered; a line counts toward the first marker it contains.
var defaultRules = []levelRule{
	{marker: "FATAL", title: "fatal failures in logs", action: "inspect crash cause and restart policy", severity: "high", burstAt: 1},
	{marker: "ERROR", title: "error burst in logs", action: "investigate failing component", severity: "medium", burstAt: 5},
	{marker: "WARN", title: "warnings accumulating in logs", action: "review warning source", severity: "low", burstAt: 20},
}

// Scanner extracts suggestions from log content.
type Scanner struct {
	rules []levelRule
}

// NewScanner creates a scanner with the default level rules.
func NewScanner() *Scanner {
	return &Scanner{rules: defaultRules}
}

// Scan reads log lines from r and returns at most one suggestion per level,
// ordered by severity. Lines matching no rule are ignored.
func (s *Scanner) Scan(r io.Reader) ([]Suggestion, error) {
	counts := make([]int, len(s.rules))
	samples := make([]string, len(s.rules))

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		for i, rule := range s.rules {
			if strings.Contains(line, rule.marker) {
				counts[i]++
				if samples[i] == "" {
					samples[i] = strings.TrimSpace(line)
				}
				break
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan logs: %w", err)
	}

	var out []Suggestion
	for i, rule := range s.rules {
		if counts[i] == 0 {
			continue
		}
		severity := rule.severity
		if counts[i] >= rule.burstAt {
			severity = "high"
		}
		out = append(out, Suggestion{
			Title:             rule.title,
			Description:       fmt.Sprintf("%d %s line(s), first: %s", counts[i], rule.marker, samples[i]),
			Severity:          severity,
			RecommendedAction: rule.action,
		})
	}
	return out, nil
}

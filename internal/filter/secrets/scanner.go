// Package secrets refuses to forward caller content containing credentials.
package secrets

import (
	"context"
	"fmt"
	"strings"

	"github.com/af-corp/convo-gateway/internal/config"
	"github.com/af-corp/convo-gateway/internal/filter"
	"github.com/af-corp/convo-gateway/internal/types"
)

// Detection locates one match. Offsets are bytes into the message content.
type Detection struct {
	PatternName  string
	MessageIndex int
	Start        int
	End          int
}

// Scanner matches caller content against a fixed set of credential patterns.
type Scanner struct {
	patterns []Pattern
	cfg      func() config.SecretsFilterConfig
}

func NewScanner(cfg func() config.SecretsFilterConfig) *Scanner {
	return &Scanner{patterns: DefaultPatterns(), cfg: cfg}
}

func (s *Scanner) Name() string  { return "secrets" }
func (s *Scanner) Enabled() bool { return s.cfg().Enabled }

// ScanText returns every match in text, grouped by pattern.
func (s *Scanner) ScanText(text string) []Detection {
	return s.scan(0, text)
}

func (s *Scanner) scan(index int, text string) []Detection {
	var out []Detection
	for _, p := range s.patterns {
		for _, loc := range p.Regex.FindAllStringIndex(text, -1) {
			out = append(out, Detection{PatternName: p.Name, MessageIndex: index, Start: loc[0], End: loc[1]})
		}
	}
	return out
}

// ScanMessages scans each message, recording which message matched.
func (s *Scanner) ScanMessages(messages []types.Message) []Detection {
	var out []Detection
	for i, m := range messages {
		out = append(out, s.scan(i, m.Content)...)
	}
	return out
}

// Scan implements filter.Filter. A single match blocks the request.
func (s *Scanner) Scan(_ context.Context, messages []types.Message) filter.Result {
	detections := s.ScanMessages(filter.CallerAuthored(messages))
	if len(detections) == 0 {
		return filter.Result{Action: filter.ActionPass, FilterName: "secrets"}
	}
	return filter.Result{
		Action:     filter.ActionBlock,
		FilterName: "secrets",
		Message:    fmt.Sprintf("Request blocked: %s detected", strings.Join(patternNames(detections), ", ")),
		Detections: len(detections),
	}
}

// patternNames lists distinct pattern names in order of first appearance.
func patternNames(detections []Detection) []string {
	seen := make(map[string]bool, len(detections))
	var names []string
	for _, d := range detections {
		if seen[d.PatternName] {
			continue
		}
		seen[d.PatternName] = true
		names = append(names, d.PatternName)
	}
	return names
}

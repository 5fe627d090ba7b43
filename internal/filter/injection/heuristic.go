// Package injection scores caller content for prompt injection attempts
// using weighted regular expressions.
package injection

import (
	"context"
	"fmt"

	"github.com/af-corp/convo-gateway/internal/config"
	"github.com/af-corp/convo-gateway/internal/filter"
	"github.com/af-corp/convo-gateway/internal/types"
)

type Detection struct {
	RuleName     string
	Category     Category
	Severity     float64
	MessageIndex int
	Start        int
	End          int
}

// Scanner reports the highest rule severity found across a request. The
// configured thresholds turn that score into block, flag or pass.
type Scanner struct {
	rules []Rule
	cfg   func() config.InjectionFilterConfig
}

func NewScanner(cfg func() config.InjectionFilterConfig) *Scanner {
	return &Scanner{rules: DefaultRules(), cfg: cfg}
}

func (s *Scanner) Name() string  { return "injection" }
func (s *Scanner) Enabled() bool { return s.cfg().Enabled }

// ScanText returns every rule match in text.
func (s *Scanner) ScanText(text string) []Detection {
	return s.scan(0, text)
}

func (s *Scanner) scan(index int, text string) []Detection {
	var out []Detection
	for _, r := range s.rules {
		for _, loc := range r.Regex.FindAllStringIndex(text, -1) {
			out = append(out, Detection{
				RuleName:     r.Name,
				Category:     r.Category,
				Severity:     r.Severity,
				MessageIndex: index,
				Start:        loc[0],
				End:          loc[1],
			})
		}
	}
	return out
}

// ScanMessages returns all detections and the worst one, if any.
func (s *Scanner) ScanMessages(messages []types.Message) ([]Detection, *Detection) {
	var (
		all   []Detection
		worst *Detection
	)
	for i, m := range messages {
		all = append(all, s.scan(i, m.Content)...)
	}
	for i := range all {
		if worst == nil || all[i].Severity > worst.Severity {
			worst = &all[i]
		}
	}
	return all, worst
}

// Scan implements filter.Filter.
func (s *Scanner) Scan(_ context.Context, messages []types.Message) filter.Result {
	detections, worst := s.ScanMessages(filter.CallerAuthored(messages))
	if worst == nil {
		return filter.Result{Action: filter.ActionPass, FilterName: "injection"}
	}

	cfg := s.cfg()
	result := filter.Result{
		Action:     filter.ActionPass,
		FilterName: "injection",
		Detections: len(detections),
		Score:      worst.Severity,
	}
	switch {
	case worst.Severity >= cfg.BlockThreshold:
		result.Action = filter.ActionBlock
		result.Message = fmt.Sprintf("Request blocked: prompt injection detected (%s, score %.2f)", worst.RuleName, worst.Severity)
	case worst.Severity >= cfg.FlagThreshold:
		result.Action = filter.ActionFlag
		result.Message = fmt.Sprintf("possible prompt injection (%s)", worst.RuleName)
	}
	return result
}

// Package compliance performs a static risk-scoring pass over generated
// project files before they are released to the customer.
package compliance

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dappfactory/orderflow/internal/app/domain/order"
	"github.com/dappfactory/orderflow/internal/generator"
	"github.com/dappfactory/orderflow/pkg/logger"
)

// Report is the output of one analysis pass.
type Report struct {
	RiskScore int
	Flags     []order.Flag
}

// rule is one scanning pattern with its score contribution.
type rule struct {
	pattern  *regexp.Regexp
	severity order.FlagSeverity
	weight   int
	message  string
}

var rules = []rule{
	{
		pattern:  regexp.MustCompile(`(?i)(private[_\s]?key|secret[_\s]?key)\s*[:=]\s*["'][0-9a-zA-Z+/=]{32,}`),
		severity: order.SeverityHigh,
		weight:   40,
		message:  "hardcoded private key material",
	},
	{
		pattern:  regexp.MustCompile(`(?i)eval\s*\(\s*(atob|fetch|require\s*\(\s*['"]https?)`),
		severity: order.SeverityHigh,
		weight:   40,
		message:  "dynamic execution of remote code",
	},
	{
		pattern:  regexp.MustCompile(`(?i)(drain|sweep|siphon)\w*\s*\(\s*(wallet|owner|user)`),
		severity: order.SeverityHigh,
		weight:   35,
		message:  "wallet-draining call pattern",
	},
	{
		pattern:  regexp.MustCompile(`(?i)set[_]?authority\s*\(.*(null|none|attacker)`),
		severity: order.SeverityMedium,
		weight:   20,
		message:  "suspicious authority reassignment",
	},
	{
		pattern:  regexp.MustCompile(`(?i)(transfer|withdraw)\w*fee\w*\s*[:=]\s*(100|[5-9][0-9])\b`),
		severity: order.SeverityMedium,
		weight:   15,
		message:  "excessive fee configuration",
	},
	{
		pattern:  regexp.MustCompile(`https?://[^\s"']*\.(tk|ml|ga|cf|gq)(/|["'\s])`),
		severity: order.SeverityMedium,
		weight:   15,
		message:  "callout to disposable-TLD host",
	},
	{
		pattern:  regexp.MustCompile(`(?i)document\.cookie|localStorage\.getItem\s*\(\s*['"](seed|mnemonic|key)`),
		severity: order.SeverityMedium,
		weight:   10,
		message:  "browser credential access",
	},
	{
		pattern:  regexp.MustCompile(`\\x[0-9a-f]{2}(\\x[0-9a-f]{2}){15,}`),
		severity: order.SeverityLow,
		weight:   5,
		message:  "long escaped byte sequence",
	},
}

// Analyzer scans generated files against the rule set.
type Analyzer struct {
	log *logger.Logger
}

// New constructs an analyzer.
func New(log *logger.Logger) *Analyzer {
	if log == nil {
		log = logger.NewDefault("compliance")
	}
	return &Analyzer{log: log}
}

// Analyze scores the file set. The score is the capped sum of triggered
// rule weights; each rule flags at most once per file.
func (a *Analyzer) Analyze(ctx context.Context, files []generator.File) (Report, error) {
	var report Report

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		content := file.Content
		if content == "" {
			continue
		}
		for _, r := range rules {
			if !r.pattern.MatchString(content) {
				continue
			}
			report.RiskScore += r.weight
			report.Flags = append(report.Flags, order.Flag{
				Severity: r.severity,
				Message:  fmt.Sprintf("%s in %s", r.message, file.Path),
			})
		}
	}

	if report.RiskScore > 100 {
		report.RiskScore = 100
	}

	a.log.WithField("files", len(files)).
		WithField("risk_score", report.RiskScore).
		WithField("flags", len(report.Flags)).
		Info("compliance analysis completed")
	return report, nil
}

// Summarize renders the flags for audit logging.
func Summarize(flags []order.Flag) string {
	if len(flags) == 0 {
		return "no findings"
	}
	parts := make([]string, 0, len(flags))
	for _, f := range flags {
		parts = append(parts, fmt.Sprintf("[%s] %s", f.Severity, f.Message))
	}
	return strings.Join(parts, "; ")
}

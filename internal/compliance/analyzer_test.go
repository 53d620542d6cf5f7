package compliance

import (
	"context"
	"strings"
	"testing"

	"github.com/dappfactory/orderflow/internal/app/domain/order"
	"github.com/dappfactory/orderflow/internal/generator"
)

func analyze(t *testing.T, files ...generator.File) Report {
	t.Helper()
	report, err := New(nil).Analyze(context.Background(), files)
	if err != nil {
		t.Fatal(err)
	}
	return report
}

func TestAnalyzeCleanFiles(t *testing.T) {
	report := analyze(t,
		generator.File{Path: "src/lib.rs", Content: "pub fn transfer(amount: u64) {}\n"},
		generator.File{Path: "README.md", Content: "# demo project\n"},
	)
	if report.RiskScore != 0 || len(report.Flags) != 0 {
		t.Errorf("clean files scored %d with %d flags", report.RiskScore, len(report.Flags))
	}
}

func TestAnalyzeHardcodedKey(t *testing.T) {
	report := analyze(t, generator.File{
		Path:    "src/config.ts",
		Content: `const private_key = "dGhpcyBpcyBhIGZha2Uga2V5IGZvciB0ZXN0aW5n"`,
	})
	if report.RiskScore != 40 {
		t.Errorf("score = %d, want 40", report.RiskScore)
	}
	if len(report.Flags) != 1 || report.Flags[0].Severity != order.SeverityHigh {
		t.Fatalf("flags = %+v, want one high flag", report.Flags)
	}
	if !strings.Contains(report.Flags[0].Message, "src/config.ts") {
		t.Errorf("flag message %q should name the file", report.Flags[0].Message)
	}
}

func TestAnalyzeWalletDrain(t *testing.T) {
	report := analyze(t, generator.File{
		Path:    "src/app.ts",
		Content: "async function run() { await drainFunds(wallet); }",
	})
	if report.RiskScore != 35 {
		t.Errorf("score = %d, want 35", report.RiskScore)
	}
}

func TestAnalyzeDisposableTLD(t *testing.T) {
	report := analyze(t, generator.File{
		Path:    "src/net.ts",
		Content: `fetch("http://collector.tk/beacon")`,
	})
	if report.RiskScore != 15 {
		t.Errorf("score = %d, want 15", report.RiskScore)
	}
	if len(report.Flags) != 1 || report.Flags[0].Severity != order.SeverityMedium {
		t.Fatalf("flags = %+v, want one medium flag", report.Flags)
	}
}

func TestAnalyzeScoreCapped(t *testing.T) {
	hot := `const secret_key = "dGhpcyBpcyBhIGZha2Uga2V5IGZvciB0ZXN0aW5n"
eval(atob(payload))
drainFunds(wallet)`
	report := analyze(t,
		generator.File{Path: "a.ts", Content: hot},
		generator.File{Path: "b.ts", Content: hot},
	)
	if report.RiskScore != 100 {
		t.Errorf("score = %d, want capped at 100", report.RiskScore)
	}
	if len(report.Flags) != 6 {
		t.Errorf("flags = %d, want 6 (three rules across two files)", len(report.Flags))
	}
}

func TestSummarize(t *testing.T) {
	if got := Summarize(nil); got != "no findings" {
		t.Errorf("empty summary = %q", got)
	}
	got := Summarize([]order.Flag{
		{Severity: order.SeverityHigh, Message: "hardcoded private key material in a.ts"},
		{Severity: order.SeverityLow, Message: "long escaped byte sequence in b.ts"},
	})
	if !strings.Contains(got, "[high]") || !strings.Contains(got, "; [low]") {
		t.Errorf("summary = %q", got)
	}
}

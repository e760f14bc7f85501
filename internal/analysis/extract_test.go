package analysis

import (
	"strings"
	"testing"
)

func TestExtractHTML_FencedBlock(t *testing.T) {
	stdout := "INFO loading table structure\n" +
		"```html\n<h3>Analysis</h3><p>Two upcoming events.</p>\n```\n" +
		"INFO done\n"

	html, ok := ExtractHTML(stdout)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if !strings.Contains(html, "<h3>Analysis</h3>") {
		t.Errorf("unexpected fragment: %q", html)
	}
	if strings.Contains(html, "INFO") {
		t.Errorf("log lines leaked into fragment: %q", html)
	}
}

func TestExtractHTML_DocumentPair(t *testing.T) {
	stdout := "2025-06-01 12:00:00 INFO starting\n" +
		"<html><body><p>report body</p></body></html>\n"

	html, ok := ExtractHTML(stdout)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if !strings.HasPrefix(html, "<html>") || !strings.HasSuffix(html, "</html>") {
		t.Errorf("expected a full document, got %q", html)
	}
}

func TestExtractHTML_MultipleDocumentsKeepsLast(t *testing.T) {
	stdout := "<html><body>first draft</body></html>\n" +
		"some retry logging\n" +
		"<html><body>final report</body></html>\n"

	html, ok := ExtractHTML(stdout)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if !strings.Contains(html, "final report") || strings.Contains(html, "first draft") {
		t.Errorf("expected only the last document, got %q", html)
	}
}

func TestExtractHTML_DuplicateTablesDropped(t *testing.T) {
	table := "<table><tr><td>EC2</td></tr></table>"
	stdout := "<html><body>" + table + table + "</body></html>"

	html, ok := ExtractHTML(stdout)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if got := strings.Count(html, "<table>"); got != 1 {
		t.Errorf("expected one table after dedupe, got %d in %q", got, html)
	}
}

func TestExtractHTML_DistinctTablesKept(t *testing.T) {
	stdout := "<html><body>" +
		"<table><tr><td>EC2</td></tr></table>" +
		"<table><tr><td>RDS</td></tr></table>" +
		"</body></html>"

	html, ok := ExtractHTML(stdout)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if got := strings.Count(html, "<table>"); got != 2 {
		t.Errorf("expected both distinct tables, got %d", got)
	}
}

func TestExtractHTML_SubstantialLinesFallback(t *testing.T) {
	stdout := "INFO agent starting up\n" +
		"DEBUG query built\n" +
		"The analysis found three scheduled maintenance windows affecting RDS instances.\n" +
		"Recommended action: plan failover before the maintenance start times listed above.\n" +
		"INFO shutting down\n"

	html, ok := ExtractHTML(stdout)
	if !ok {
		t.Fatal("expected fallback extraction to succeed")
	}
	if strings.Contains(html, "INFO") || strings.Contains(html, "DEBUG") {
		t.Errorf("log lines leaked into fallback fragment: %q", html)
	}
	if !strings.Contains(html, "maintenance windows") {
		t.Errorf("content lines missing: %q", html)
	}
}

func TestExtractHTML_NothingSalvageable(t *testing.T) {
	if _, ok := ExtractHTML("INFO nothing here\nERROR bad day\n"); ok {
		t.Error("expected extraction to fail on pure log output")
	}
}

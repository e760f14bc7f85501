package analysis

import (
	"regexp"
	"strings"
)

var (
	fencedBlockRe = regexp.MustCompile("(?s)```(?:html)?\\s*(.+?)```")
	htmlDocRe     = regexp.MustCompile(`(?is)<html[^>]*>.*?</html>`)
	htmlTableRe   = regexp.MustCompile(`(?is)<table[^>]*>.*?</table>`)
	logLineRe     = regexp.MustCompile(`^\s*(\d{4}-\d{2}-\d{2}|INFO|DEBUG|WARNING|ERROR|\[)`)
)

// ExtractHTML pulls the single HTML fragment out of agent stdout. The
// agent is a black box that interleaves log lines with its report, so
// extraction tries, in order: a fenced code block, an <html> document
// pair, then the most substantial non-log lines. The agent has been seen
// emitting several complete documents and repeated tables in one run;
// only the last document survives and duplicate tables are dropped.
func ExtractHTML(stdout string) (string, bool) {
	if fragment, ok := fromFence(stdout); ok {
		return dedupeTables(fragment), true
	}
	if docs := htmlDocRe.FindAllString(stdout, -1); len(docs) > 0 {
		return dedupeTables(docs[len(docs)-1]), true
	}
	if fragment, ok := substantialLines(stdout); ok {
		return dedupeTables(fragment), true
	}
	return "", false
}

func fromFence(stdout string) (string, bool) {
	matches := fencedBlockRe.FindAllStringSubmatch(stdout, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		body := strings.TrimSpace(matches[i][1])
		if strings.Contains(body, "<") {
			// The fence may itself wrap several documents.
			if docs := htmlDocRe.FindAllString(body, -1); len(docs) > 1 {
				return docs[len(docs)-1], true
			}
			return body, true
		}
	}
	return "", false
}

// substantialLines is the last-ditch path: keep lines that look like
// content rather than agent logging and require enough of them to make a
// plausible report.
func substantialLines(stdout string) (string, bool) {
	var kept []string
	for _, line := range strings.Split(stdout, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || logLineRe.MatchString(trimmed) {
			continue
		}
		if len(trimmed) > 40 || strings.Contains(trimmed, "<") {
			kept = append(kept, trimmed)
		}
	}
	fragment := strings.Join(kept, "\n")
	if len(fragment) < 80 {
		return "", false
	}
	return fragment, true
}

// dedupeTables removes byte-identical repeats of a table, keeping the
// first occurrence.
func dedupeTables(html string) string {
	seen := make(map[string]bool)
	return htmlTableRe.ReplaceAllStringFunc(html, func(table string) string {
		key := strings.Join(strings.Fields(table), " ")
		if seen[key] {
			return ""
		}
		seen[key] = true
		return table
	})
}

package schema

import (
	"strings"
)

// institutionLabels lists the filename or content markers that identify
// a source scope. Deliberately small: unknown institutions simply
// resolve to the empty scope and rely on the global seed schema.
// Ordered so detection is deterministic when multiple markers match.
var institutionLabels = []struct {
	scope   string
	markers []string
}{
	{"mufg", []string{"mufg", "三菱ufj"}},
	{"mizuho", []string{"mizuho", "みずほ"}},
	{"smbc", []string{"smbc", "三井住友"}},
	{"yucho", []string{"yucho", "jp-bank", "ゆうちょ"}},
	{"resona", []string{"resona", "りそな"}},
}

// DetectSource infers the issuing institution of a document from its
// filename and any text content already extracted. Returns the empty
// scope when nothing matches.
func DetectSource(filename, content string) string {
	haystack := strings.ToLower(filename) + "\n" + strings.ToLower(content)
	for _, inst := range institutionLabels {
		for _, marker := range inst.markers {
			if strings.Contains(haystack, marker) {
				return inst.scope
			}
		}
	}
	return ""
}

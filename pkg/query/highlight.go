package query

import (
	"strings"

	"github.com/logscan/logscan/pkg/model"
)

const (
	highlightPre  = "<em>"
	highlightPost = "</em>"
	fragmentSize  = 150
	maxFragments  = 3
)

// buildHighlights produces entryId -> fieldName -> fragments. Each
// fragment is a window around a term occurrence with the match wrapped in
// the highlight markers.
func buildHighlights(entries []model.LogEntry, searchText string, fields []string) map[string]map[string][]string {
	terms := strings.Fields(searchText)
	if len(terms) == 0 {
		return nil
	}

	highlights := map[string]map[string][]string{}
	for i := range entries {
		entry := &entries[i]
		perField := map[string][]string{}
		for _, field := range fields {
			value := fieldText(entry, field)
			if value == "" {
				continue
			}
			fragments := highlightField(value, terms)
			if len(fragments) > 0 {
				perField[field] = fragments
			}
		}
		if len(perField) > 0 {
			highlights[entry.ID] = perField
		}
	}

	if len(highlights) == 0 {
		return nil
	}
	return highlights
}

func fieldText(entry *model.LogEntry, field string) string {
	switch field {
	case "message":
		return entry.Message
	case "rawLine":
		return entry.RawLine
	case "stackTrace":
		return entry.StackTrace
	default:
		return ""
	}
}

func highlightField(value string, terms []string) []string {
	lower := strings.ToLower(value)
	var fragments []string

	for _, term := range terms {
		lowerTerm := strings.ToLower(term)
		offset := 0
		for len(fragments) < maxFragments {
			idx := strings.Index(lower[offset:], lowerTerm)
			if idx < 0 {
				break
			}
			idx += offset

			fragStart := idx - fragmentSize/2
			if fragStart < 0 {
				fragStart = 0
			}
			matchEnd := idx + len(term)
			fragEnd := fragStart + fragmentSize
			if fragEnd > len(value) {
				fragEnd = len(value)
			}
			if fragEnd < matchEnd {
				fragEnd = matchEnd
			}
			fragment := value[fragStart:idx] + highlightPre + value[idx:matchEnd] + highlightPost + value[matchEnd:fragEnd]
			fragments = append(fragments, fragment)

			offset = matchEnd
		}
	}
	return fragments
}

package summary

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rcliao/chat-summary/internal/model"
)

var (
	ordinalMarker  = regexp.MustCompile(`\[(\d+)\]`)
	trailingWeight = regexp.MustCompile(`\(\s*([0-9]*\.?[0-9]+)\s*\)\s*$`)
)

// ParseRecords reads "[<ordinal>] <description> (<weight>)" records from text.
// A description runs to the next ordinal marker or the end of text, and records
// keep their order of appearance. Text before the first marker is ignored.
// A missing weight parses as 0. When no record can be read the whole trimmed
// text becomes a single record with ordinal 1 and weight 1.
func ParseRecords(text string) []model.SummaryRecord {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	marks := ordinalMarker.FindAllStringSubmatchIndex(trimmed, -1)
	var records []model.SummaryRecord
	for i, m := range marks {
		end := len(trimmed)
		if i+1 < len(marks) {
			end = marks[i+1][0]
		}
		body := strings.TrimSpace(trimmed[m[1]:end])

		var weight float64
		if w := trailingWeight.FindStringSubmatchIndex(body); w != nil {
			if f, err := strconv.ParseFloat(body[w[2]:w[3]], 64); err == nil {
				weight = f
				body = strings.TrimSpace(body[:w[0]])
			}
		}
		if body == "" {
			continue
		}

		ordinal, err := strconv.Atoi(trimmed[m[2]:m[3]])
		if err != nil {
			continue
		}
		records = append(records, model.SummaryRecord{Ordinal: ordinal, Description: body, Weight: weight})
	}

	if len(records) == 0 {
		return []model.SummaryRecord{{Ordinal: 1, Description: trimmed, Weight: 1}}
	}
	return records
}

// RenderRecords writes records back in the form ParseRecords reads.
func RenderRecords(records []model.SummaryRecord) string {
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, fmt.Sprintf("[%d] %s (%.2f)", r.Ordinal, r.Description, r.Weight))
	}
	return strings.Join(lines, "\n")
}

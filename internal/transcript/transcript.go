// Package transcript loads chat transcripts and selects message windows for summarization.
package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/rcliao/chat-summary/internal/log"
	"github.com/rcliao/chat-summary/internal/model"
)

// Separator joins formatted messages in a window.
const Separator = "\n\n---\n\n"

// Range is an inclusive floor range.
type Range struct {
	Start int
	End   int
}

// ParseRange parses "start-end". Anything other than two integer halves yields def.
// An inverted range is swapped, never rejected. The result is not clamped.
func ParseRange(spec string, def Range) Range {
	parts := strings.Split(spec, "-")
	if len(parts) != 2 {
		return def
	}
	start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return def
	}
	end, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return def
	}
	if start > end {
		start, end = end, start
	}
	return Range{Start: start, End: end}
}

// Select extracts messages start..end from msgs, strips exclude matches and
// formats the survivors. It returns ("", nil) when nothing is left to summarize.
func Select(msgs []model.Message, start, end int, exclude string) (string, []model.Message) {
	if len(msgs) == 0 {
		return "", nil
	}
	if start > end {
		start, end = end, start
	}
	start = max(start, 0)
	end = min(end, len(msgs)-1)
	if start > end {
		return "", nil
	}

	var re *regexp.Regexp
	if strings.TrimSpace(exclude) != "" {
		var err error
		re, err = regexp.Compile("(?im)" + exclude)
		if err != nil {
			log.Warnf("exclude pattern %q ignored: %v", exclude, err)
			re = nil
		}
	}

	var out []model.Message
	blocks := make([]string, 0, end-start+1)
	for _, m := range msgs[start : end+1] {
		if m.IsSystem {
			continue
		}
		text := m.Text
		if re != nil {
			text = re.ReplaceAllString(text, "")
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		m.Text = text
		out = append(out, m)
		blocks = append(blocks, fmt.Sprintf("[%d - %s]\n%s", m.Index, m.Speaker, text))
	}

	if len(out) == 0 {
		return "", nil
	}
	return strings.Join(blocks, Separator), out
}

// record is a host chat line as exported to JSON or JSONL.
type record struct {
	Name     string  `json:"name"`
	IsUser   bool    `json:"is_user"`
	IsSystem bool    `json:"is_system"`
	Mes      *string `json:"mes"`
}

// Load reads a transcript saved as a JSON array or as JSONL. JSONL header lines
// (objects without a "mes" field) are skipped.
func Load(path string) ([]model.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return Parse(data)
}

// Parse decodes transcript bytes; see Load.
func Parse(data []byte) ([]model.Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var recs []record
	if data[0] == '[' {
		if err := json.Unmarshal(data, &recs); err != nil {
			return nil, fmt.Errorf("parse transcript: %w", err)
		}
	} else {
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		line := 0
		for sc.Scan() {
			line++
			b := bytes.TrimSpace(sc.Bytes())
			if len(b) == 0 {
				continue
			}
			var r record
			if err := json.Unmarshal(b, &r); err != nil {
				return nil, fmt.Errorf("parse transcript line %d: %w", line, err)
			}
			recs = append(recs, r)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
	}

	msgs := make([]model.Message, 0, len(recs))
	for _, r := range recs {
		if r.Mes == nil {
			continue
		}
		speaker := r.Name
		if speaker == "" {
			speaker = "Assistant"
			if r.IsUser {
				speaker = "User"
			}
		}
		msgs = append(msgs, model.Message{
			Index:    len(msgs),
			Speaker:  speaker,
			Text:     *r.Mes,
			IsUser:   r.IsUser,
			IsSystem: r.IsSystem,
		})
	}
	return msgs, nil
}

// Package chunker splits summary entry content into blocks for search indexing.
//
// Summary entries are a sequence of blocks separated by a "---" rule. Each block
// becomes one chunk unless it exceeds MaxSize, in which case it is broken on
// line boundaries.
package chunker

import (
	"strings"
)

const (
	DefaultTargetSize = 400
	DefaultMaxSize    = 800
)

// Options configures chunking behavior.
type Options struct {
	TargetSize int
	MaxSize    int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{
		TargetSize: DefaultTargetSize,
		MaxSize:    DefaultMaxSize,
	}
}

// Chunk splits text into indexable chunks in document order.
func Chunk(text string, opts Options) []string {
	if opts.TargetSize == 0 {
		opts = DefaultOptions()
	}

	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return nil
	}

	var out []string
	for _, b := range splitBlocks(text) {
		if len(b) <= opts.MaxSize {
			out = append(out, b)
			continue
		}
		out = append(out, hardSplit(b, opts.TargetSize)...)
	}
	return out
}

// splitBlocks splits on lines consisting only of dashes.
func splitBlocks(text string) []string {
	var blocks []string
	var current []string

	flush := func() {
		t := strings.TrimSpace(strings.Join(current, "\n"))
		if t != "" {
			blocks = append(blocks, t)
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		if isRule(line) {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()

	return blocks
}

func isRule(line string) bool {
	t := strings.TrimSpace(line)
	return len(t) >= 3 && strings.Trim(t, "-") == ""
}

// hardSplit breaks text on line boundaries into pieces of about target bytes.
// A single line longer than target is kept whole.
func hardSplit(text string, target int) []string {
	var out []string
	var current []string
	curLen := 0

	for _, line := range strings.Split(text, "\n") {
		if curLen+len(line) > target && len(current) > 0 {
			if t := strings.TrimSpace(strings.Join(current, "\n")); t != "" {
				out = append(out, t)
			}
			current = nil
			curLen = 0
		}
		current = append(current, line)
		curLen += len(line) + 1
	}
	if t := strings.TrimSpace(strings.Join(current, "\n")); t != "" {
		out = append(out, t)
	}
	return out
}

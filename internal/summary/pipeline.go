// Package summary runs the two-tier summarization pipeline.
//
// GenerateSmall condenses one message window and appends it to the
// small-summary entry. GenerateBig compacts the accumulated small summaries
// according to the configured compaction policy. Only one of them runs at a time.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/chat-summary/internal/config"
	"github.com/rcliao/chat-summary/internal/llm"
	"github.com/rcliao/chat-summary/internal/log"
	"github.com/rcliao/chat-summary/internal/model"
	"github.com/rcliao/chat-summary/internal/store"
	"github.com/rcliao/chat-summary/internal/transcript"
)

// TimestampLayout stamps each small summary block.
const TimestampLayout = "2006-01-02 15:04:05"

// ErrEmptyResult is returned when generation produced only whitespace.
var ErrEmptyResult = errors.New("summary: generation returned an empty result")

// ValidationError reports a request that cannot run. It never changes the store.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "summary: " + e.Reason }

// SmallResult is the outcome of GenerateSmall.
type SmallResult struct {
	// Summary is the trimmed generated text, without the timestamp header.
	Summary string       `json:"summary"`
	Entry   *model.Entry `json:"entry"`
}

// BigResult is the outcome of GenerateBig.
type BigResult struct {
	Text    string                  `json:"text"`
	Key     string                  `json:"key"`
	Policy  config.CompactionPolicy `json:"policy"`
	Records []model.SummaryRecord   `json:"records,omitempty"`
	Entry   *model.Entry            `json:"entry"`
}

// Pipeline owns the guard and the collaborators of one summarizer.
type Pipeline struct {
	cfg   config.Summary
	store *store.MemoryStore
	gen   llm.Generator
	guard *Guard
	now   func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the time source for summary timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithGuard shares a guard between pipelines.
func WithGuard(g *Guard) Option {
	return func(p *Pipeline) { p.guard = g }
}

func New(cfg config.Summary, ms *store.MemoryStore, gen llm.Generator, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:   cfg,
		store: ms,
		gen:   gen,
		guard: &Guard{},
		now:   time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Busy reports whether an operation is in progress.
func (p *Pipeline) Busy() bool { return p.guard.Held() }

func (p *Pipeline) checkReady() error {
	if !p.cfg.Enabled {
		return &ValidationError{Reason: "summarizer is disabled"}
	}
	if strings.TrimSpace(p.cfg.Store) == "" {
		return &ValidationError{Reason: "no target store selected"}
	}
	return nil
}

func (p *Pipeline) generate(ctx context.Context, prompt string) (string, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	out, err := p.gen.Generate(ctx, prompt)
	if err != nil {
		var ge *llm.GenerationError
		if !errors.As(err, &ge) {
			err = &llm.GenerationError{Backend: "unknown", Reason: "generate failed", Err: err}
		}
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrEmptyResult
	}
	return out, nil
}

// GenerateSmall summarizes windowText and appends the result as a timestamped
// block to the small-summary entry.
func (p *Pipeline) GenerateSmall(ctx context.Context, windowText string) (*SmallResult, error) {
	release, err := p.guard.Acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	if err := p.checkReady(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(windowText) == "" {
		return nil, &ValidationError{Reason: "window is empty, nothing to summarize"}
	}

	log.Infof("generating small summary for store %s (%d chars)", p.cfg.Store, len(windowText))
	summary, err := p.generate(ctx, render(SmallPrompt, chatContentVar, windowText))
	if err != nil {
		return nil, err
	}

	existing, err := p.store.Read(ctx, p.cfg.Store, p.cfg.SmallEntry)
	if err != nil {
		return nil, err
	}
	block := fmt.Sprintf("[%s]\n%s", p.now().Format(TimestampLayout), summary)
	merged := appendBlock(existing, block)

	entry, err := p.store.Upsert(ctx, p.cfg.Store, p.cfg.SmallEntry, merged,
		store.WithActivationDepth(p.cfg.SmallDepth),
		store.WithAliases(p.cfg.SmallAliases...),
	)
	if err != nil {
		return nil, err
	}
	return &SmallResult{Summary: summary, Entry: entry}, nil
}

// GenerateBig compacts the small-summary entry. Under the append policy the
// result becomes a new chapter of the big-summary entry. Under the replace
// policy it is parsed into records that replace the small-summary content.
func (p *Pipeline) GenerateBig(ctx context.Context) (*BigResult, error) {
	release, err := p.guard.Acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	if err := p.checkReady(); err != nil {
		return nil, err
	}
	policy := p.cfg.CompactionPolicy
	if !policy.Valid() {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown compaction policy %q", policy)}
	}

	small, err := p.store.Read(ctx, p.cfg.Store, p.cfg.SmallEntry)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(small) == "" {
		return nil, &ValidationError{Reason: "nothing to compact"}
	}

	tmpl := BigPrompt
	if policy == config.PolicyReplace {
		tmpl = DistillPrompt
	}
	log.Infof("compacting %s of store %s with policy %s", p.cfg.SmallEntry, p.cfg.Store, policy)
	text, err := p.generate(ctx, render(tmpl, summariesVar, small))
	if err != nil {
		return nil, err
	}

	res := &BigResult{Text: text, Policy: policy}
	var content string
	switch policy {
	case config.PolicyAppend:
		existing, err := p.store.Read(ctx, p.cfg.Store, p.cfg.BigEntry)
		if err != nil {
			return nil, err
		}
		res.Key = p.cfg.BigEntry
		content = appendBlock(existing, text)
	case config.PolicyReplace:
		res.Key = p.cfg.SmallEntry
		res.Records = ParseRecords(text)
		content = RenderRecords(res.Records)
		log.Debugf("distilled %d records", len(res.Records))
	}

	res.Entry, err = p.store.Upsert(ctx, p.cfg.Store, res.Key, content,
		store.WithActivationDepth(p.cfg.BigDepth))
	if err != nil {
		return nil, err
	}
	return res, nil
}

func appendBlock(existing, block string) string {
	if existing == "" {
		return block
	}
	return existing + transcript.Separator + block
}

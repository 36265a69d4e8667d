package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultMaxRetries is the number of retries after the first attempt.
const DefaultMaxRetries = 2

// DefaultRetryDelay is the base delay between attempts.
const DefaultRetryDelay = 2 * time.Second

// Failure is the outcome of one unsuccessful attempt.
type Failure struct {
	Kind ErrorKind
	Err  error
	Raw  string // Reply text, empty when the call itself failed
}

// Detail renders the error for prompts and records.
func (f *Failure) Detail() string {
	if f == nil || f.Err == nil {
		return ""
	}
	var verr *ValidationError
	if errors.As(f.Err, &verr) {
		return strings.Join(verr.Details, "; ")
	}
	return f.Err.Error()
}

// Result is the outcome of Extract. Exactly one of Rules and Fallback is set.
type Result struct {
	Rules    *RuleSet
	Fallback *FallbackRecord
	Attempts int
	Flagged  []int // Indexes of rules Sanitize marked as suspicious
}

// OK reports whether a validated rule set was obtained.
func (r *Result) OK() bool { return r != nil && r.Rules != nil }

// Options tunes the retry loop.
type Options struct {
	MaxRetries int           // Retries after the first attempt; negative means none.
	RetryDelay time.Duration // Base delay, doubled per retry.

	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultOptions returns two retries with a two second base delay.
func DefaultOptions() Options {
	return Options{MaxRetries: DefaultMaxRetries, RetryDelay: DefaultRetryDelay}
}

// Extractor turns text into a validated RuleSet, retrying with corrective
// prompts and recording a fallback when every attempt fails.
type Extractor struct {
	llm       Completer
	validator *Validator
	sink      FallbackSink
	log       *slog.Logger
	opts      Options
}

// NewExtractor wires an Extractor. sink receives exhausted inputs.
func NewExtractor(llm Completer, sink FallbackSink, log *slog.Logger, opts Options) (*Extractor, error) {
	if llm == nil {
		return nil, errors.New("extractor needs a completer")
	}
	if sink == nil {
		return nil, errors.New("extractor needs a fallback sink")
	}
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Extractor{llm: llm, validator: v, sink: sink, log: log, opts: opts}, nil
}

// Extract runs up to MaxRetries+1 attempts. Transport, decode and schema
// failures are retried; the first retry onwards uses a corrective prompt.
// When attempts run out the input is written to the fallback sink and
// returned in Result.Fallback with a nil error. Errors are returned only for
// cancellation and sink failures.
func (e *Extractor) Extract(ctx context.Context, in Input) (*Result, error) {
	log := e.log.With("source", in.Source)
	prompt := BuildRulesPrompt(in)

	var (
		last     *Failure
		lastRaw  string
		attempts int
	)
	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := Backoff(e.opts.RetryDelay, attempt-1)
			log.Info("retrying rule extraction", "attempt", attempt+1, "delay", delay, "previous_error", last.Kind)
			if err := e.opts.Sleep(ctx, delay); err != nil {
				return nil, err
			}
			prompt = BuildCorrectivePrompt(in, last)
		}
		attempts = attempt + 1

		raw, err := e.llm.Complete(ctx, prompt)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			last = &Failure{Kind: KindTransport, Err: err}
			log.Warn("completion failed", "attempt", attempts, "error", err)
			if !IsRetryable(err) {
				break
			}
			continue
		}
		lastRaw = raw

		rules, err := e.validator.Validate(raw)
		if err != nil {
			kind := KindDecode
			var verr *ValidationError
			if errors.As(err, &verr) {
				kind = verr.Kind
			}
			last = &Failure{Kind: kind, Err: err, Raw: raw}
			log.Warn("invalid model output", "attempt", attempts, "kind", kind, "error", truncate(err.Error(), 300))
			continue
		}

		flagged := Sanitize(rules)
		for _, i := range flagged {
			r := rules.Rules[i]
			log.Warn("suspicious rule kept", "index", i,
				"condition", truncate(r.Condition, 120), "approver", truncate(r.Approver, 120))
		}
		log.Info("rules extracted", "rules", len(rules.Rules), "flagged", len(flagged), "attempts", attempts)
		return &Result{Rules: rules, Attempts: attempts, Flagged: flagged}, nil
	}

	rec := NewFallbackRecord(in, last, lastRaw, attempts)
	if err := e.sink.WriteFallback(rec); err != nil {
		return nil, fmt.Errorf("record fallback for %s: %w", in.Source, err)
	}
	log.Error("rule extraction exhausted, fallback recorded",
		"attempts", attempts, "kind", rec.ErrorKind, "fallback_id", rec.ID)
	return &Result{Fallback: rec, Attempts: attempts}, nil
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extract runs model extraction over the nine protocol fields.
// Fields are processed sequentially, one backend call per field, with
// contract validation, bounded retries, and paced calls so that a whole
// document stays under the provider's throughput ceiling.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/pdiddy/protocol-extractor/internal/selector"
	"github.com/pdiddy/protocol-extractor/pkg/types"
)

// DefaultCallTimeout bounds a single backend call.
const DefaultCallTimeout = 2 * time.Minute

// Options configures an Orchestrator. Zero values select defaults.
type Options struct {
	// Specs are the field specs; empty means types.DefaultFieldSpecs.
	Specs []types.FieldSpec

	// CharsPerToken is the selector's character-to-token ratio.
	CharsPerToken int

	// Limiter paces calls; nil means NoDelay.
	Limiter Limiter

	// Retry bounds attempts per field.
	Retry RetryPolicy

	// CallTimeout bounds one backend call; zero means DefaultCallTimeout.
	CallTimeout time.Duration

	// Progress receives per-field status events.
	Progress ProgressFunc

	// Logger receives structured logs; nil discards them.
	Logger *slog.Logger

	// Now stamps results; nil means time.Now.
	Now func() time.Time
}

// OptionsFromConfig derives orchestrator options from configuration: a
// fixed-interval gate, an optional tokens-per-minute bucket, and
// exponential backoff.
func OptionsFromConfig(cfg types.ExtractionConfig) Options {
	var chain Chain
	if cfg.InterFieldDelay > 0 {
		chain = append(chain, NewFixedInterval(cfg.InterFieldDelay))
	}
	if cfg.TokensPerMinute > 0 {
		chain = append(chain, NewTokenBucket(cfg.TokensPerMinute))
	}

	opts := Options{
		Specs:         cfg.FieldSpecs(),
		CharsPerToken: cfg.CharsPerToken,
		Retry: RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     ExponentialBackoff(cfg.BackoffBase, cfg.BackoffMax),
		},
		CallTimeout: cfg.CallTimeout,
	}
	if len(chain) > 0 {
		opts.Limiter = chain
	}
	return opts
}

// Orchestrator extracts ExtractionRecords. One Orchestrator serves one
// document at a time; independent instances share no state.
type Orchestrator struct {
	backend     Backend
	specs       []types.FieldSpec
	selector    *selector.Selector
	limiter     Limiter
	retry       RetryPolicy
	callTimeout time.Duration
	progress    ProgressFunc
	logger      *slog.Logger
	now         func() time.Time
}

// New returns an Orchestrator calling backend. It rejects field specs that
// do not cover the nine fields exactly once.
func New(backend Backend, opts Options) (*Orchestrator, error) {
	if backend == nil {
		return nil, errors.New("extract: nil backend")
	}

	specs := opts.Specs
	if len(specs) == 0 {
		specs = types.DefaultFieldSpecs()
	}
	if err := types.ValidateFieldSpecs(specs); err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	ordered := make([]types.FieldSpec, len(specs))
	copy(ordered, specs)
	canonical := map[types.FieldID]int{}
	for i, f := range types.AllFields() {
		canonical[f] = i
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return canonical[ordered[i].ID] < canonical[ordered[j].ID]
	})

	o := &Orchestrator{
		backend:     backend,
		specs:       ordered,
		selector:    selector.New(opts.CharsPerToken),
		limiter:     opts.Limiter,
		retry:       opts.Retry,
		callTimeout: opts.CallTimeout,
		progress:    opts.Progress,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if o.limiter == nil {
		o.limiter = NoDelay{}
	}
	if o.callTimeout <= 0 {
		o.callTimeout = DefaultCallTimeout
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// ExtractAll runs every field in priority order and returns a record with
// all nine fields. A field that fails permanently carries an error tag and
// empty content; the remaining fields still run. Cancellation is checked
// before each field; once ctx is done no partial record is returned.
func (o *Orchestrator) ExtractAll(ctx context.Context, doc types.Document) (*types.ExtractionRecord, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return nil, fmt.Errorf("extracting %s: %w", doc.ID, types.ErrEmptyDocument)
	}

	units := o.selector.Split(doc)
	rec := types.NewExtractionRecord(doc.ID)

	for _, spec := range o.specs {
		o.emit(ProgressEvent{DocumentID: doc.ID, Field: spec.ID, Status: StatusPending})
	}

	start := o.now()
	failed := 0
	for _, spec := range o.specs {
		if err := ctx.Err(); err != nil {
			o.logger.Info("extraction abandoned", slog.String("document", doc.ID), slog.String("next_field", string(spec.ID)))
			return nil, err
		}

		res, err := o.extractField(ctx, doc.ID, units, spec, "", "")
		if err != nil {
			return nil, err
		}
		if res.Failed() {
			failed++
		}
		if err := rec.Set(res); err != nil {
			return nil, err
		}
	}

	o.logger.Info("extraction complete",
		slog.String("document", doc.ID),
		slog.Int("fields", types.FieldCount),
		slog.Int("failed", failed),
		slog.Duration("elapsed", o.now().Sub(start)))
	return rec, nil
}

// ExtractField runs the pipeline for a single field.
func (o *Orchestrator) ExtractField(ctx context.Context, doc types.Document, field types.FieldID) (types.FieldResult, error) {
	spec, ok := o.spec(field)
	if !ok {
		return types.FieldResult{}, fmt.Errorf("extract: unknown field %q", field)
	}
	return o.extractField(ctx, doc.ID, o.selector.Split(doc), spec, "", "")
}

// Refine re-extracts one field with feedback appended to its instruction
// and replaces only that field in rec. When the re-extraction fails, rec
// is left unchanged and the failed result is returned with an
// *ExhaustedRetriesError.
func (o *Orchestrator) Refine(ctx context.Context, doc types.Document, rec *types.ExtractionRecord, field types.FieldID, feedback string) (types.FieldResult, error) {
	if rec == nil {
		return types.FieldResult{}, errors.New("refine: nil record")
	}
	spec, ok := o.spec(field)
	if !ok {
		return types.FieldResult{}, fmt.Errorf("refine: unknown field %q", field)
	}
	if strings.TrimSpace(doc.Text) == "" {
		return types.FieldResult{}, fmt.Errorf("refining %s: %w", doc.ID, types.ErrEmptyDocument)
	}

	previous := rec.Fields[field].Content
	res, err := o.extractField(ctx, doc.ID, o.selector.Split(doc), spec, previous, feedback)
	if err != nil {
		return types.FieldResult{}, err
	}
	if res.Failed() {
		return res, &ExhaustedRetriesError{Field: field, Attempts: res.Attempts, Last: errors.New(res.Error)}
	}
	if err := rec.Set(res); err != nil {
		return types.FieldResult{}, err
	}
	return res, nil
}

func (o *Orchestrator) spec(field types.FieldID) (types.FieldSpec, bool) {
	for _, s := range o.specs {
		if s.ID == field {
			return s, true
		}
	}
	return types.FieldSpec{}, false
}

// extractField selects the chunk, calls the backend with retries, and
// returns the field's result. A returned error means ctx was cancelled and
// the result must be discarded; every other failure is recorded on the
// result.
func (o *Orchestrator) extractField(ctx context.Context, docID string, units []selector.TextUnit, spec types.FieldSpec, previous, feedback string) (types.FieldResult, error) {
	log := o.logger.With(slog.String("document", docID), slog.String("field", string(spec.ID)))

	sel := o.selector.Select(units, spec, spec.MaxTokens)
	if sel.Empty() {
		log.Debug("no evidence found; extracting from empty chunk")
	} else {
		log.Debug("chunk selected",
			slog.Int("units", len(sel.Units)),
			slog.Int("tokens", sel.EstimatedTokens),
			slog.Bool("overflow", sel.Overflow))
	}

	instruction, err := renderInstruction(spec, previous, feedback)
	if err != nil {
		return types.FieldResult{}, fmt.Errorf("rendering instruction for %s: %w", spec.ID, err)
	}
	req := Request{
		Field:       spec.ID,
		Instruction: instruction,
		Content:     renderChunk(sel),
		Contract:    FieldContract(),
	}

	// The limiter is charged for the chunk as sent, page markers included.
	cost := o.selector.EstimateTokens(req.Content)

	maxAttempts := o.retry.attempts()
	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		attempt++
		if attempt > 1 {
			if err := sleep(ctx, o.retry.wait(attempt-1)); err != nil {
				return types.FieldResult{}, err
			}
		}
		if err := o.limiter.Wait(ctx, cost); err != nil {
			return types.FieldResult{}, err
		}

		o.emit(ProgressEvent{DocumentID: docID, Field: spec.ID, Status: StatusInProgress, Attempt: attempt})
		resp, err := o.call(ctx, req)
		if ctx.Err() != nil {
			return types.FieldResult{}, ctx.Err()
		}
		if err == nil {
			pages := resp.PageReferences
			if len(pages) == 0 && resp.Content != "" {
				pages = attributePages(resp.Content, sel.Units)
			}
			res := types.FieldResult{
				Field:          spec.ID,
				Content:        resp.Content,
				PageReferences: types.NormalizePages(pages),
				Method:         types.MethodModel,
				ExtractedAt:    o.now(),
				Attempts:       attempt,
			}
			o.emit(ProgressEvent{DocumentID: docID, Field: spec.ID, Status: StatusDone})
			log.Debug("field extracted", slog.Int("attempts", attempt), slog.Int("chars", len(res.Content)))
			return res, nil
		}

		lastErr = err
		log.Warn("extraction attempt failed", slog.Int("attempt", attempt), slog.Any("error", err))
		if !Retryable(err) {
			break
		}
	}

	failure := lastErr
	if Retryable(lastErr) {
		failure = &ExhaustedRetriesError{Field: spec.ID, Attempts: attempt, Last: lastErr}
	}
	o.emit(ProgressEvent{DocumentID: docID, Field: spec.ID, Status: StatusFailed, Err: failure})
	log.Error("field unavailable", slog.Any("error", failure))

	return types.FieldResult{
		Field:          spec.ID,
		Content:        "",
		PageReferences: []int{},
		Method:         types.MethodModel,
		ExtractedAt:    o.now(),
		Error:          failure.Error(),
		Attempts:       attempt,
	}, nil
}

// call makes one time-boxed backend call and validates the response. The
// call runs on its own goroutine so a backend that ignores its context
// cannot hold the document past the deadline; a result arriving after the
// deadline or after cancellation is dropped. A call that hits its own
// deadline is transient.
func (o *Orchestrator) call(ctx context.Context, req Request) (fieldResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	type reply struct {
		raw []byte
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		raw, err := o.backend.Extract(callCtx, req)
		ch <- reply{raw: raw, err: err}
	}()

	var r reply
	select {
	case r = <-ch:
	case <-callCtx.Done():
		r = reply{err: callCtx.Err()}
	}

	if ctx.Err() != nil {
		return fieldResponse{}, ctx.Err()
	}
	if r.err != nil {
		if errors.Is(r.err, context.DeadlineExceeded) {
			return fieldResponse{}, &TransientError{Err: fmt.Errorf("backend call exceeded %s: %w", o.callTimeout, r.err)}
		}
		return fieldResponse{}, r.err
	}
	return parseResponse(req.Field, r.raw)
}

func (o *Orchestrator) emit(ev ProgressEvent) {
	if o.progress != nil {
		o.progress(ev)
	}
}

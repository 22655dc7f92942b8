// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/protocol-extractor/internal/quality"
	"github.com/pdiddy/protocol-extractor/pkg/types"
)

// --- mock backends ---

// scriptedBackend answers per field. A field's queue of replies is consumed
// one per call; the last reply repeats.
type scriptedBackend struct {
	mu       sync.Mutex
	replies  map[types.FieldID][]reply
	fallback reply
	calls    map[types.FieldID]int
	requests []Request
}

type reply struct {
	body string
	err  error
}

func newScripted() *scriptedBackend {
	return &scriptedBackend{
		replies:  map[types.FieldID][]reply{},
		fallback: reply{body: `{"content": "Extracted content with 12 items", "page_references": [2, 1, 2]}`},
		calls:    map[types.FieldID]int{},
	}
}

func (b *scriptedBackend) on(f types.FieldID, rs ...reply) *scriptedBackend {
	b.replies[f] = rs
	return b
}

func (b *scriptedBackend) Extract(_ context.Context, req Request) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	n := b.calls[req.Field]
	b.calls[req.Field]++

	r := b.fallback
	if rs, ok := b.replies[req.Field]; ok && len(rs) > 0 {
		r = rs[min(n, len(rs)-1)]
	}
	if r.err != nil {
		return nil, r.err
	}
	return []byte(r.body), nil
}

func (b *scriptedBackend) lastRequest(f types.FieldID) Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.requests) - 1; i >= 0; i-- {
		if b.requests[i].Field == f {
			return b.requests[i]
		}
	}
	return Request{}
}

func transient() reply {
	return reply{err: &TransientError{StatusCode: 429, Err: errors.New("rate limited")}}
}

// --- fixtures ---

func protocolDoc() types.Document {
	text := strings.Join([]string{
		"STUDY DESIGN",
		"This protocol describes a randomized study design. Background and rationale follow.",
		"",
		"The purpose and aims of the trial are described here.",
		"",
		"The primary objective is overall survival. The secondary objective is response rate.",
		"",
		"Treatment arm A receives pembrolizumab at a dose of 200 mg; arm B receives placebo.",
		"",
		"Eligibility: inclusion criteria require adults; exclusion criteria list prior therapy.",
		"",
		"Enrollment of 300 participants with randomization 1:1 after screening.",
		"",
		"Adverse event reporting: safety and toxicity are graded per CTCAE.",
		"",
		"Each site and location is listed with its institution and investigator.",
		"",
		"The sponsor is Merck; funding and contact details are provided.",
	}, "\n")
	return types.Document{ID: "NCT00000001", Text: text, Pages: []types.PageBoundary{{Offset: 0, Page: 1}, {Offset: len(text) / 2, Page: 2}}}
}

func newTestOrchestrator(t *testing.T, b Backend, mod func(*Options)) *Orchestrator {
	t.Helper()
	opts := Options{
		Retry:   RetryPolicy{MaxAttempts: 3, Backoff: NoBackoff},
		Limiter: NoDelay{},
	}
	if mod != nil {
		mod(&opts)
	}
	o, err := New(b, opts)
	require.NoError(t, err)
	return o
}

// --- ExtractAll ---

func TestExtractAllProducesNineFields(t *testing.T) {
	b := newScripted()
	o := newTestOrchestrator(t, b, nil)

	rec, err := o.ExtractAll(context.Background(), protocolDoc())
	require.NoError(t, err)
	require.True(t, rec.Complete())
	assert.Len(t, rec.Fields, types.FieldCount)

	for _, f := range types.AllFields() {
		res := rec.Fields[f]
		assert.Equal(t, f, res.Field)
		assert.Equal(t, "Extracted content with 12 items", res.Content)
		assert.Equal(t, []int{1, 2}, res.PageReferences, "pages are deduplicated and ascending")
		assert.Equal(t, types.MethodModel, res.Method)
		assert.False(t, res.Failed())
		assert.Equal(t, 1, b.calls[f], "one call per field")
	}
}

func TestExtractAllExhaustedRetriesIsolated(t *testing.T) {
	b := newScripted().on(types.FieldAdverseEvents, transient())
	o := newTestOrchestrator(t, b, nil)

	rec, err := o.ExtractAll(context.Background(), protocolDoc())
	require.NoError(t, err)
	require.Len(t, rec.Fields, types.FieldCount)

	ae := rec.Fields[types.FieldAdverseEvents]
	assert.Equal(t, "", ae.Content)
	assert.True(t, ae.Failed())
	assert.Contains(t, ae.Error, "giving up after 3 attempts")
	assert.Equal(t, 3, ae.Attempts)
	assert.Equal(t, 3, b.calls[types.FieldAdverseEvents])

	for _, f := range types.AllFields() {
		if f == types.FieldAdverseEvents {
			continue
		}
		assert.False(t, rec.Fields[f].Failed(), "field %s", f)
		assert.NotEmpty(t, rec.Fields[f].Content, "field %s", f)
	}
}

func TestExtractAllRetriesValidationFailures(t *testing.T) {
	b := newScripted().on(types.FieldSponsorInformation,
		reply{body: `{"content": "Merck", "page_references": [1], "notes": "extra"}`},
		reply{body: "```json\n{\"content\": \"Merck Sharp & Dohme\", \"page_references\": [3]}\n```"},
	)
	o := newTestOrchestrator(t, b, nil)

	rec, err := o.ExtractAll(context.Background(), protocolDoc())
	require.NoError(t, err)
	sp := rec.Fields[types.FieldSponsorInformation]
	assert.Equal(t, "Merck Sharp & Dohme", sp.Content)
	assert.Equal(t, []int{3}, sp.PageReferences)
	assert.Equal(t, 2, sp.Attempts)
}

func TestExtractAllNonRetryableErrorStops(t *testing.T) {
	b := newScripted().on(types.FieldStudyLocations, reply{err: errors.New("Claude API returned 401: unauthorized")})
	o := newTestOrchestrator(t, b, nil)

	rec, err := o.ExtractAll(context.Background(), protocolDoc())
	require.NoError(t, err)
	loc := rec.Fields[types.FieldStudyLocations]
	assert.True(t, loc.Failed())
	assert.Equal(t, 1, b.calls[types.FieldStudyLocations])
	assert.Contains(t, loc.Error, "401")
}

func TestExtractAllEmptyChunkStillCallsBackend(t *testing.T) {
	doc := types.Document{ID: "d", Text: "The randomized trial enrolled adults with melanoma."}
	b := newScripted().on(types.FieldSponsorInformation, reply{body: `{"content": "", "page_references": []}`})
	o := newTestOrchestrator(t, b, nil)

	rec, err := o.ExtractAll(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, 1, b.calls[types.FieldSponsorInformation])
	req := b.lastRequest(types.FieldSponsorInformation)
	assert.Equal(t, "", req.Content)
	assert.JSONEq(t, fieldContract, string(req.Contract))

	sp, ok := rec.Fields[types.FieldSponsorInformation]
	require.True(t, ok)
	assert.Equal(t, "", sp.Content)
	assert.False(t, sp.Failed())
	assert.NotNil(t, sp.PageReferences)

	report := quality.New(types.DefaultQualityConfig()).Score(rec)
	assert.Contains(t, report.Missing, types.FieldSponsorInformation)
}

func TestExtractAllEmptyDocument(t *testing.T) {
	o := newTestOrchestrator(t, newScripted(), nil)
	rec, err := o.ExtractAll(context.Background(), types.Document{ID: "d", Text: "  \n"})
	assert.Nil(t, rec)
	assert.True(t, errors.Is(err, types.ErrEmptyDocument))
}

func TestExtractAllPriorityOrder(t *testing.T) {
	b := newScripted()
	o := newTestOrchestrator(t, b, nil)

	want := []types.FieldID{
		types.FieldStudyOverview,
		types.FieldObjectives,
		types.FieldTreatmentArms,
		types.FieldAdverseEvents,
		types.FieldBriefDescription,
		types.FieldEligibilityCriteria,
		types.FieldEnrollmentFlow,
		types.FieldStudyLocations,
		types.FieldSponsorInformation,
	}
	_, err := o.ExtractAll(context.Background(), protocolDoc())
	require.NoError(t, err)
	var got []types.FieldID
	for _, r := range b.requests {
		got = append(got, r.Field)
	}
	assert.Equal(t, want, got)
}

func TestExtractAllProgressEvents(t *testing.T) {
	var events []ProgressEvent
	b := newScripted().on(types.FieldSponsorInformation, transient())
	o := newTestOrchestrator(t, b, func(opts *Options) {
		opts.Retry.MaxAttempts = 2
		opts.Progress = func(ev ProgressEvent) { events = append(events, ev) }
	})

	_, err := o.ExtractAll(context.Background(), protocolDoc())
	require.NoError(t, err)

	for i := 0; i < types.FieldCount; i++ {
		assert.Equal(t, StatusPending, events[i].Status)
	}
	counts := map[Status]int{}
	for _, ev := range events {
		counts[ev.Status]++
	}
	assert.Equal(t, types.FieldCount, counts[StatusPending])
	assert.Equal(t, types.FieldCount-1, counts[StatusDone])
	assert.Equal(t, 1, counts[StatusFailed])
	assert.Equal(t, types.FieldCount+1, counts[StatusInProgress], "the failing field reports both attempts")

	last := events[len(events)-1]
	assert.Equal(t, types.FieldSponsorInformation, last.Field)
	assert.Equal(t, StatusFailed, last.Status)
	var ere *ExhaustedRetriesError
	assert.True(t, errors.As(last.Err, &ere))
}

func TestExtractAllCancelledBetweenFields(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := newScripted()
	o := newTestOrchestrator(t, b, func(opts *Options) {
		opts.Progress = func(ev ProgressEvent) {
			if ev.Status == StatusDone {
				cancel()
			}
		}
	})

	rec, err := o.ExtractAll(ctx, protocolDoc())
	assert.Nil(t, rec)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Len(t, b.requests, 1, "no field starts after cancellation")
}

func TestExtractAllDiscardsLateResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	b := BackendFunc(func(_ context.Context, _ Request) ([]byte, error) {
		calls++
		cancel()
		return []byte(`{"content": "arrived after cancel", "page_references": []}`), nil
	})
	o := newTestOrchestrator(t, b, nil)

	rec, err := o.ExtractAll(ctx, protocolDoc())
	assert.Nil(t, rec)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)
}

func TestCallTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	b := BackendFunc(func(_ context.Context, _ Request) ([]byte, error) {
		<-release
		return []byte(`{"content": "too late", "page_references": []}`), nil
	})
	o := newTestOrchestrator(t, b, func(opts *Options) {
		opts.Retry.MaxAttempts = 2
		opts.CallTimeout = 10 * time.Millisecond
	})

	res, err := o.ExtractField(context.Background(), protocolDoc(), types.FieldSponsorInformation)
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Equal(t, 2, res.Attempts)
	assert.Contains(t, res.Error, "exceeded")
	assert.Equal(t, "", res.Content)
}

func TestPageAttributionFallback(t *testing.T) {
	text := "Intro page text.\n\nThe sponsor Merck Sharp Dohme provides funding for this trial."
	doc := types.Document{
		ID:   "d",
		Text: text,
		Pages: []types.PageBoundary{
			{Offset: 0, Page: 1},
			{Offset: strings.Index(text, "The sponsor"), Page: 7},
		},
	}
	b := newScripted().on(types.FieldSponsorInformation,
		reply{body: `{"content": "Sponsor: Merck Sharp Dohme provides funding", "page_references": []}`})
	o := newTestOrchestrator(t, b, nil)

	res, err := o.ExtractField(context.Background(), doc, types.FieldSponsorInformation)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, res.PageReferences)

	req := b.lastRequest(types.FieldSponsorInformation)
	assert.True(t, strings.HasPrefix(req.Content, "--- Page 7 ---\n"), "chunk carries page markers: %q", req.Content)
}

// recordingLimiter records the token cost of every reservation.
type recordingLimiter struct {
	mu     sync.Mutex
	tokens []int
}

func (l *recordingLimiter) Wait(ctx context.Context, tokens int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens = append(l.tokens, tokens)
	return ctx.Err()
}

func TestLimiterChargedForRenderedChunk(t *testing.T) {
	text := "The sponsor is Merck.\n\nFunding sponsor contact on page two."
	doc := types.Document{
		ID:   "d",
		Text: text,
		Pages: []types.PageBoundary{
			{Offset: 0, Page: 1},
			{Offset: strings.Index(text, "Funding"), Page: 2},
		},
	}
	lim := &recordingLimiter{}
	b := newScripted()
	o := newTestOrchestrator(t, b, func(opts *Options) { opts.Limiter = lim })

	_, err := o.ExtractField(context.Background(), doc, types.FieldSponsorInformation)
	require.NoError(t, err)

	req := b.lastRequest(types.FieldSponsorInformation)
	require.Contains(t, req.Content, "--- Page 2 ---")
	require.Len(t, lim.tokens, 1)
	assert.Equal(t, o.selector.EstimateTokens(req.Content), lim.tokens[0])
}

// --- Refine ---

func TestRefineReplacesOnlyOneField(t *testing.T) {
	var tick int64
	clock := func() time.Time {
		tick++
		return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(tick) * time.Second)
	}

	b := newScripted()
	o := newTestOrchestrator(t, b, func(opts *Options) { opts.Now = clock })
	doc := protocolDoc()

	rec, err := o.ExtractAll(context.Background(), doc)
	require.NoError(t, err)

	before := map[types.FieldID][]byte{}
	for f, res := range rec.Fields {
		data, err := json.Marshal(res)
		require.NoError(t, err)
		before[f] = data
	}
	oldArms := rec.Fields[types.FieldTreatmentArms]

	b.on(types.FieldTreatmentArms, reply{body: `{"content": "Arm A: pembrolizumab 200 mg IV", "page_references": [2]}`})
	res, err := o.Refine(context.Background(), doc, rec, types.FieldTreatmentArms, "add dosing units")
	require.NoError(t, err)

	assert.Equal(t, "Arm A: pembrolizumab 200 mg IV", res.Content)
	assert.Equal(t, res, rec.Fields[types.FieldTreatmentArms])
	assert.True(t, res.ExtractedAt.After(oldArms.ExtractedAt))
	assert.Equal(t, types.FieldTreatmentArms, res.Field)

	req := b.lastRequest(types.FieldTreatmentArms)
	assert.Contains(t, req.Instruction, "add dosing units")
	assert.Contains(t, req.Instruction, oldArms.Content)

	for f, res := range rec.Fields {
		if f == types.FieldTreatmentArms {
			continue
		}
		data, err := json.Marshal(res)
		require.NoError(t, err)
		assert.Equal(t, string(before[f]), string(data), "field %s must be untouched", f)
	}
}

func TestRefineFailureKeepsExistingResult(t *testing.T) {
	b := newScripted()
	o := newTestOrchestrator(t, b, nil)
	doc := protocolDoc()

	rec, err := o.ExtractAll(context.Background(), doc)
	require.NoError(t, err)
	prev := rec.Fields[types.FieldEligibilityCriteria]

	b.on(types.FieldEligibilityCriteria, transient())
	res, err := o.Refine(context.Background(), doc, rec, types.FieldEligibilityCriteria, "list ECOG status")

	var ere *ExhaustedRetriesError
	require.True(t, errors.As(err, &ere))
	assert.True(t, res.Failed())
	assert.Equal(t, prev, rec.Fields[types.FieldEligibilityCriteria], "a failed refine never blanks a good field")
}

func TestRefineUnknownField(t *testing.T) {
	o := newTestOrchestrator(t, newScripted(), nil)
	rec := types.NewExtractionRecord("d")
	_, err := o.Refine(context.Background(), protocolDoc(), rec, types.FieldID("budget"), "x")
	assert.Error(t, err)
}

// --- New ---

func TestNewRejectsIncompleteSpecs(t *testing.T) {
	specs := types.DefaultFieldSpecs()[:8]
	_, err := New(newScripted(), Options{Specs: specs})
	assert.Error(t, err)

	_, err = New(nil, Options{})
	assert.Error(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := types.DefaultPipelineConfig().Extraction
	cfg.TokensPerMinute = 30000
	opts := OptionsFromConfig(cfg)

	chain, ok := opts.Limiter.(Chain)
	require.True(t, ok)
	assert.Len(t, chain, 2)
	assert.Equal(t, 3, opts.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, opts.Retry.Backoff(1))
	assert.Equal(t, 8*time.Second, opts.Retry.Backoff(3))
	assert.Len(t, opts.Specs, types.FieldCount)

	cfg.InterFieldDelay = 0
	cfg.TokensPerMinute = 0
	assert.Nil(t, OptionsFromConfig(cfg).Limiter)
}

// --- contract ---

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    fieldResponse
		wantErr bool
	}{
		{name: "valid", raw: `{"content": "x", "page_references": [3, 1, 3, 0]}`, want: fieldResponse{Content: "x", PageReferences: []int{1, 3}}},
		{name: "fenced", raw: "```json\n{\"content\": \"x\", \"page_references\": []}\n```", want: fieldResponse{Content: "x", PageReferences: []int{}}},
		{name: "bare fence", raw: "```\n{\"content\": \"\", \"page_references\": [2]}\n```", want: fieldResponse{Content: "", PageReferences: []int{2}}},
		{name: "extra key", raw: `{"content": "x", "page_references": [], "confidence": 0.9}`, wantErr: true},
		{name: "missing pages", raw: `{"content": "x"}`, wantErr: true},
		{name: "missing content", raw: `{"page_references": [1]}`, wantErr: true},
		{name: "nested content", raw: `{"content": {"arms": []}, "page_references": []}`, wantErr: true},
		{name: "string pages", raw: `{"content": "x", "page_references": ["4"]}`, wantErr: true},
		{name: "not json", raw: `The sponsor is Merck.`, wantErr: true},
		{name: "empty", raw: "  ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseResponse(types.FieldSponsorInformation, []byte(tt.raw))
			if tt.wantErr {
				var ve *ValidationError
				require.True(t, errors.As(err, &ve), "got %v", err)
				assert.True(t, Retryable(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderInstruction(t *testing.T) {
	spec := types.DefaultFieldSpecs()[0]
	plain, err := renderInstruction(spec, "", "")
	require.NoError(t, err)
	assert.Contains(t, plain, string(spec.ID))
	assert.Contains(t, plain, "NCT ID")
	assert.NotContains(t, plain, "Reviewer feedback")

	refined, err := renderInstruction(spec, "old text", "add phase")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(refined, plain[:len(plain)-1]), "feedback is appended to the base instruction")
	assert.Contains(t, refined, "old text")
	assert.Contains(t, refined, "add phase")
}

func TestErrorsUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", &ExhaustedRetriesError{Field: types.FieldSponsorInformation, Attempts: 3, Last: &TransientError{Err: base}})
	assert.True(t, errors.Is(err, base))
	var te *TransientError
	assert.True(t, errors.As(err, &te))
	assert.False(t, Retryable(errors.New("plain")))
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/protocol-extractor/internal/quality"
	"github.com/pdiddy/protocol-extractor/internal/records"
	"github.com/pdiddy/protocol-extractor/pkg/types"
)

func newTestAcquirer(t *testing.T, studies ...Study) (*Acquirer, *fakeRegistry) {
	t.Helper()
	f, reg := newFakeRegistry(t, studies...)
	return &Acquirer{
		Registry:   reg,
		Scorer:     quality.New(types.DefaultQualityConfig()),
		RecordsDir: filepath.Join(t.TempDir(), "records"),
		now:        func() time.Time { return fixedNow },
	}, f
}

func TestAcquireIDs(t *testing.T) {
	a, _ := newTestAcquirer(t,
		testStudy("NCT00000001", "Melanoma"),
		testStudy("NCT00000002", "Asthma"),
	)
	var out bytes.Buffer

	result, err := a.AcquireIDs(context.Background(), []string{"NCT00000001", "nct00000002", "NCT00000404", "bogus"}, &out)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Written)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, 4, result.Total())
	assert.True(t, result.HasFailures())
	require.Len(t, result.Paths, 2)
	assert.Equal(t, records.Path(a.RecordsDir, "NCT00000002"), result.Paths[1])

	rec, err := records.Load(result.Paths[0])
	require.NoError(t, err)
	assert.Equal(t, "NCT00000001", rec.DocumentID)
	assert.Equal(t, "Melanoma", rec.Metadata[MetaCondition])
	assert.Equal(t, types.MethodStructural, rec.Fields[types.FieldEligibilityCriteria].Method)

	log := out.String()
	assert.Contains(t, log, "wrote:   NCT00000001 (completeness 0.33)")
	assert.Contains(t, log, "failed:  NCT00000404")
	assert.Contains(t, log, "study not found")
	assert.Contains(t, log, `failed:  bogus (invalid NCT identifier "bogus")`)
	assert.Contains(t, log, "Batch summary: 2 written, 0 skipped, 0 sparse, 2 failed (total: 4)")
}

func TestAcquireIDsSkipsExisting(t *testing.T) {
	a, f := newTestAcquirer(t, testStudy("NCT00000001", "Melanoma"))

	_, err := a.AcquireIDs(context.Background(), []string{"NCT00000001"}, &bytes.Buffer{})
	require.NoError(t, err)
	requests, _ := f.log()
	require.Len(t, requests, 1)

	var out bytes.Buffer
	result, err := a.AcquireIDs(context.Background(), []string{"NCT00000001"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Contains(t, out.String(), "skipped: NCT00000001 (already exists)")
	requests, _ = f.log()
	assert.Len(t, requests, 1, "existing record is not fetched again")

	a.Force = true
	result, err = a.AcquireIDs(context.Background(), []string{"NCT00000001"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Written)
}

func TestAcquireMinCompleteness(t *testing.T) {
	sparse := Study{}
	sparse.ProtocolSection.Identification.NCTID = "NCT00000002"
	sparse.ProtocolSection.Identification.BriefTitle = "Untitled registry entry"
	sparse.ProtocolSection.Conditions.Conditions = []string{"Melanoma"}

	tests := []struct {
		name    string
		min     float64
		written int
		sparse  int
	}{
		{"zero keeps everything", 0, 2, 0},
		{"drops records below the floor", 0.3, 1, 1},
		{"drops everything above the best", 0.5, 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestAcquirer(t, testStudy("NCT00000001", "Melanoma"), sparse)
			a.MinCompleteness = tt.min

			var out bytes.Buffer
			result, err := a.AcquireSearch(context.Background(), SearchQuery{Conditions: []string{"Melanoma"}}, &out)
			require.NoError(t, err)
			assert.Equal(t, tt.written, result.Written)
			assert.Equal(t, tt.sparse, result.Sparse)
			assert.Contains(t, out.String(), "found 2 studies")

			paths, err := records.List(a.RecordsDir)
			if tt.written == 0 {
				assert.Empty(t, paths)
				return
			}
			require.NoError(t, err)
			assert.Len(t, paths, tt.written)
		})
	}
}

func TestAcquireSearchSkipsExisting(t *testing.T) {
	a, _ := newTestAcquirer(t,
		testStudy("NCT00000001", "Melanoma"),
		testStudy("NCT00000002", "Melanoma"),
	)
	require.NoError(t, os.MkdirAll(a.RecordsDir, 0o755))
	require.NoError(t, os.WriteFile(records.Path(a.RecordsDir, "NCT00000001"), []byte("document_id: NCT00000001\n"), 0o644))

	var out bytes.Buffer
	result, err := a.AcquireSearch(context.Background(), SearchQuery{Conditions: []string{"Melanoma"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.Written)
	assert.Contains(t, out.String(), "Batch summary: 1 written, 1 skipped, 0 sparse, 0 failed (total: 2)")
}

func TestAcquireSearchError(t *testing.T) {
	a, f := newTestAcquirer(t)
	f.throttle = 100
	a.Registry.Retrier.MaxRetries = 1

	_, err := a.AcquireSearch(context.Background(), SearchQuery{Conditions: []string{"Melanoma"}}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 429")
}

func TestAcquireIDsCancelled(t *testing.T) {
	a, f := newTestAcquirer(t, testStudy("NCT00000001", "Melanoma"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	result, err := a.AcquireIDs(ctx, []string{"NCT00000001"}, &out)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, result.Total())
	requests, _ := f.log()
	assert.Empty(t, requests)
	assert.NotContains(t, out.String(), "Batch summary")
}

func TestNewAcquirerFromConfig(t *testing.T) {
	cfg := types.DefaultPipelineConfig()
	cfg.Acquisition.MinCompleteness = 0.4
	cfg.Extraction.RecordsDir = "out/records"

	a := NewAcquirer(cfg, nil)
	assert.Equal(t, "out/records", a.RecordsDir)
	assert.Equal(t, 0.4, a.MinCompleteness)
	assert.Equal(t, cfg.Acquisition.BaseURL, a.Registry.BaseURL)
	assert.NotNil(t, a.Scorer)
	assert.NotNil(t, a.Logger)
}

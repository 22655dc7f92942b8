// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/pdiddy/protocol-extractor/internal/httputil"
	"github.com/pdiddy/protocol-extractor/pkg/types"
)

// DefaultBaseURL is the ClinicalTrials.gov v2 studies endpoint.
const DefaultBaseURL = "https://clinicaltrials.gov/api/v2/studies"

// maxPageSize is the registry's page size limit.
const maxPageSize = 1000

// ErrNotFound is returned by Fetch when the registry has no such study.
var ErrNotFound = errors.New("study not found")

var nctIDPattern = regexp.MustCompile(`^NCT\d{8}$`)

// NormalizeNCTID upper-cases and validates a registry identifier.
func NormalizeNCTID(id string) (string, error) {
	n := strings.ToUpper(strings.TrimSpace(id))
	if !nctIDPattern.MatchString(n) {
		return "", fmt.Errorf("invalid NCT identifier %q", id)
	}
	return n, nil
}

// Defaults applied to an empty SearchQuery.
var (
	DefaultStatuses   = []string{"RECRUITING", "ACTIVE_NOT_RECRUITING", "COMPLETED"}
	DefaultStudyTypes = []string{"INTERVENTIONAL"}
)

// SearchQuery selects studies from the registry. Each condition is
// searched separately; interventions are OR-ed into every search.
type SearchQuery struct {
	Conditions    []string
	Interventions []string
	Statuses      []string
	StudyTypes    []string
	PageSize      int
	MaxStudies    int
}

// Registry queries the ClinicalTrials.gov v2 API.
type Registry struct {
	BaseURL   string
	UserAgent string
	Retrier   *httputil.Retrier

	// Limiter paces requests; nil sends them unpaced.
	Limiter *rate.Limiter

	Logger *slog.Logger
}

// NewRegistry builds a Registry from cfg.
func NewRegistry(cfg types.AcquisitionConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Registry{
		BaseURL:   cfg.BaseURL,
		UserAgent: cfg.UserAgent,
		Retrier:   &httputil.Retrier{Client: &http.Client{Timeout: cfg.Timeout}, Logger: logger},
		Logger:    logger,
	}
	if cfg.RequestsPerSecond > 0 {
		r.Limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return r
}

// Fetch returns one study by NCT identifier.
func (r *Registry) Fetch(ctx context.Context, nctID string) (Study, error) {
	id, err := NormalizeNCTID(nctID)
	if err != nil {
		return Study{}, err
	}
	var study Study
	if err := r.get(ctx, r.base()+"/"+id, url.Values{"format": {"json"}}, &study); err != nil {
		return Study{}, fmt.Errorf("fetching %s: %w", id, err)
	}
	if study.NCTID() == "" {
		return Study{}, fmt.Errorf("fetching %s: response has no protocol section", id)
	}
	return study, nil
}

// Search returns up to q.MaxStudies distinct studies across all
// conditions, in registry order. A condition whose search fails is logged
// and skipped; the error is returned only when no study was found.
func (r *Registry) Search(ctx context.Context, q SearchQuery) ([]Study, error) {
	if len(q.Conditions) == 0 && len(q.Interventions) == 0 {
		return nil, errors.New("search needs at least one condition or intervention")
	}
	if len(q.Statuses) == 0 {
		q.Statuses = DefaultStatuses
	}
	if len(q.StudyTypes) == 0 {
		q.StudyTypes = DefaultStudyTypes
	}
	if q.PageSize <= 0 {
		q.PageSize = 100
	}
	q.PageSize = min(q.PageSize, maxPageSize)
	if q.MaxStudies <= 0 {
		q.MaxStudies = 100
	}

	conditions := q.Conditions
	if len(conditions) == 0 {
		conditions = []string{""}
	}

	var (
		studies []Study
		seen    = map[string]bool{}
		errs    []error
	)
	for _, cond := range conditions {
		if len(studies) >= q.MaxStudies {
			break
		}
		err := r.searchCondition(ctx, cond, q, func(s Study) bool {
			id := s.NCTID()
			if id == "" || seen[id] {
				return true
			}
			seen[id] = true
			studies = append(studies, s)
			return len(studies) < q.MaxStudies
		})
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			r.Logger.Warn("registry search failed", slog.String("condition", cond), slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		r.Logger.Info("registry search", slog.String("condition", cond), slog.Int("studies", len(studies)))
	}

	if len(studies) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return studies, nil
}

// searchCondition pages through one condition's results, passing each
// study to yield until it returns false or the pages run out.
func (r *Registry) searchCondition(ctx context.Context, cond string, q SearchQuery, yield func(Study) bool) error {
	params := url.Values{
		"format":               {"json"},
		"pageSize":             {strconv.Itoa(q.PageSize)},
		"filter.overallStatus": {strings.Join(q.Statuses, ",")},
		"filter.advanced":      {studyTypeFilter(q.StudyTypes)},
	}
	if cond != "" {
		params.Set("query.cond", cond)
	}
	if len(q.Interventions) > 0 {
		params.Set("query.intr", strings.Join(q.Interventions, " OR "))
	}

	for {
		var page searchPage
		if err := r.get(ctx, r.base(), params, &page); err != nil {
			return err
		}
		for _, s := range page.Studies {
			if !yield(s) {
				return nil
			}
		}
		if page.NextPageToken == "" {
			return nil
		}
		params.Set("pageToken", page.NextPageToken)
	}
}

// studyTypeFilter renders study types as an Essie AREA expression.
func studyTypeFilter(studyTypes []string) string {
	if len(studyTypes) == 1 {
		return "AREA[StudyType]" + studyTypes[0]
	}
	return "AREA[StudyType](" + strings.Join(studyTypes, " OR ") + ")"
}

type searchPage struct {
	Studies       []Study `json:"studies"`
	NextPageToken string  `json:"nextPageToken"`
}

func (r *Registry) base() string {
	if r.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimSuffix(r.BaseURL, "/")
}

func (r *Registry) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if r.Limiter != nil {
		if err := r.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.UserAgent != "" {
		req.Header.Set("User-Agent", r.UserAgent)
	}

	retrier := r.Retrier
	if retrier == nil {
		retrier = &httputil.Retrier{}
	}
	resp, err := retrier.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("registry request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("registry returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing registry response: %w", err)
	}
	return nil
}

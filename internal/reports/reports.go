package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"

	"github.com/chaplin/healthboard/internal/classifier"
	"github.com/chaplin/healthboard/internal/eventstore"
	"github.com/chaplin/healthboard/internal/models"
	"github.com/chaplin/healthboard/internal/reportcache"
)

// Report kinds. The critical-events kinds are written by the analysis
// service but listed here so a bulk refresh clears them too.
const (
	KindCategoriesSummary = "categories_summary"
	KindCategoryStats     = "event_category_stats"
	KindTypeStats         = "event_type_stats"
	KindCategoryDetails   = "category_details"
	KindTypeDetails       = "type_details"
	KindInsights          = "insights_report"

	KindCriticalEvents        = "critical_events"
	KindCriticalEvents60      = "critical_events_60"
	KindCriticalEventsPastDue = "critical_events_pastdue"
)

// ErrUnknownReport means the requested category or bucket id does not
// exist; callers map it to a 404/400.
var ErrUnknownReport = errors.New("unknown report id")

// Scanner is the event-store surface report generation needs.
type Scanner interface {
	ScanAll(ctx context.Context, opts eventstore.ScanOptions) ([]models.HealthEvent, error)
}

// Service builds the pre-aggregated dashboard reports, caching each one
// under its kind. Regeneration happens synchronously on a cache miss; two
// concurrent misses may both regenerate, which is harmless since every
// report is a pure function of the table.
type Service struct {
	store  Scanner
	cache  *reportcache.Cache
	logger *slog.Logger
}

func NewService(store Scanner, cache *reportcache.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cache: cache, logger: logger}
}

// Result is a cached payload plus its generation timestamp.
type Result struct {
	Payload       json.RawMessage
	LastRefreshed time.Time
}

// cacheThrough serves kind/subkey from cache, regenerating and persisting
// on a miss.
func (s *Service) cacheThrough(ctx context.Context, kind, subkey string, generate func(context.Context) (any, error)) (*Result, error) {
	if entry, err := s.cache.Get(kind, subkey); err == nil {
		return &Result{Payload: entry.Payload, LastRefreshed: entry.StoredAt}, nil
	} else if !errors.Is(err, reportcache.ErrMiss) {
		return nil, err
	}

	payload, err := generate(ctx)
	if err != nil {
		return nil, err
	}

	entry, err := s.cache.Put(kind, subkey, payload)
	if err != nil {
		return nil, err
	}
	s.logger.Info("report regenerated", "kind", kind, "subkey", subkey)
	return &Result{Payload: entry.Payload, LastRefreshed: entry.StoredAt}, nil
}

// CategoriesSummary is the landing-page card list.
func (s *Service) CategoriesSummary(ctx context.Context) (*Result, error) {
	return s.cacheThrough(ctx, KindCategoriesSummary, "", func(ctx context.Context) (any, error) {
		events, err := s.store.ScanAll(ctx, eventstore.ScanOptions{})
		if err != nil {
			return nil, err
		}
		return classifier.CategoryStats(events), nil
	})
}

// CategoryStats is the full per-category aggregate.
func (s *Service) CategoryStats(ctx context.Context) (*Result, error) {
	return s.cacheThrough(ctx, KindCategoryStats, "", func(ctx context.Context) (any, error) {
		events, err := s.store.ScanAll(ctx, eventstore.ScanOptions{})
		if err != nil {
			return nil, err
		}
		return classifier.CategoryStats(events), nil
	})
}

// TypeStats is the six-bucket event-type aggregate.
func (s *Service) TypeStats(ctx context.Context) (*Result, error) {
	return s.cacheThrough(ctx, KindTypeStats, "", func(ctx context.Context) (any, error) {
		events, err := s.store.ScanAll(ctx, eventstore.ScanOptions{})
		if err != nil {
			return nil, err
		}
		return classifier.TypeStats(events), nil
	})
}

// CategoryDetailsReport is the drill view for one category.
type CategoryDetailsReport struct {
	Category string               `json:"category"`
	Name     string               `json:"name"`
	Summary  DetailsSummary       `json:"summary"`
	Events   []models.EventDigest `json:"events"`
}

type DetailsSummary struct {
	TotalEvents      int `json:"total_events"`
	UpcomingEvents   int `json:"upcoming_events"`
	ServicesAffected int `json:"services_affected"`
	RegionsAffected  int `json:"regions_affected"`
}

func summarize(events []models.HealthEvent) DetailsSummary {
	services := map[string]struct{}{}
	regions := map[string]struct{}{}
	upcoming := 0
	for _, e := range events {
		services[e.Service] = struct{}{}
		regions[e.Region] = struct{}{}
		if e.StatusCode == string(models.StatusUpcoming) {
			upcoming++
		}
	}
	return DetailsSummary{
		TotalEvents:      len(events),
		UpcomingEvents:   upcoming,
		ServicesAffected: len(services),
		RegionsAffected:  len(regions),
	}
}

func digests(events []models.HealthEvent) []models.EventDigest {
	out := make([]models.EventDigest, len(events))
	for i, e := range events {
		out[i] = e.Digest()
	}
	return out
}

// CategoryDetails lists every event in one of the four categories. The
// scan is pushed down as an eventCategory equality filter.
func (s *Service) CategoryDetails(ctx context.Context, id string) (*Result, error) {
	var known bool
	for _, c := range models.Categories() {
		if string(c) == id {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("%w: category %q", ErrUnknownReport, id)
	}

	return s.cacheThrough(ctx, KindCategoryDetails, id, func(ctx context.Context) (any, error) {
		cond := expression.Name("eventCategory").Equal(expression.Value(id))
		events, err := s.store.ScanAll(ctx, eventstore.ScanOptions{Filter: &cond})
		if err != nil {
			return nil, err
		}
		return &CategoryDetailsReport{
			Category: id,
			Name:     models.CategoryName(models.Category(id)),
			Summary:  summarize(events),
			Events:   digests(events),
		}, nil
	})
}

// TypeDetailsReport is the drill view for one event-type bucket.
type TypeDetailsReport struct {
	Bucket      string               `json:"bucket"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Summary     DetailsSummary       `json:"summary"`
	Events      []models.EventDigest `json:"events"`
}

// TypeDetails lists every event in one of the six buckets. Bucket
// membership is regex-derived so the filter runs client-side after a full
// scan.
func (s *Service) TypeDetails(ctx context.Context, id string) (*Result, error) {
	bucket := classifier.Bucket(id)
	var known bool
	for _, b := range classifier.Buckets() {
		if b == bucket {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("%w: event-type bucket %q", ErrUnknownReport, id)
	}

	return s.cacheThrough(ctx, KindTypeDetails, id, func(ctx context.Context) (any, error) {
		events, err := s.store.ScanAll(ctx, eventstore.ScanOptions{})
		if err != nil {
			return nil, err
		}

		var matched []models.HealthEvent
		for _, e := range events {
			for _, b := range classifier.MatchBuckets(e.EventType) {
				if b == bucket {
					matched = append(matched, e)
					break
				}
			}
		}

		return &TypeDetailsReport{
			Bucket:      id,
			Name:        classifier.BucketName(bucket),
			Description: classifier.BucketDescription(bucket),
			Summary:     summarize(matched),
			Events:      digests(matched),
		}, nil
	})
}

// InsightsReport is the classification overview: totals, coverage, impact
// levels and top offenders.
type InsightsReport struct {
	GeneratedAt time.Time             `json:"generated_at"`
	Summary     InsightsSummary       `json:"summary"`
	Buckets     []BucketInsight       `json:"buckets"`
	TopServices []classifier.TopCount `json:"top_services"`
	TopTypes    []classifier.TopCount `json:"top_event_types"`
}

type InsightsSummary struct {
	TotalEvents            int     `json:"total_events_analyzed"`
	UpcomingEvents         int     `json:"upcoming_events_requiring_action"`
	ActionRequiredPercent  float64 `json:"action_required_percentage"`
	ClassificationCoverage float64 `json:"classification_coverage"`
}

type BucketInsight struct {
	classifier.BucketStat
	BusinessImpact string  `json:"business_impact"`
	PercentOfTotal float64 `json:"percentage_of_total"`
}

// businessImpact grades a bucket by how much of it is still upcoming.
func businessImpact(stat classifier.BucketStat) string {
	total := stat.TotalEvents
	if total == 0 {
		return "low"
	}
	ratio := float64(stat.UpcomingEvents) / float64(total)

	switch {
	case stat.ID == classifier.BucketMigrationRequirements && ratio > 0.3:
		return "high"
	case stat.ID == classifier.BucketSecurityCompliance && stat.UpcomingEvents > 0:
		return "high"
	case stat.ID == classifier.BucketCostImpactEvents && ratio > 0.2:
		return "medium"
	case stat.ID == classifier.BucketMaintenanceUpdates && ratio > 0.4:
		return "medium"
	}
	return "low"
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

func (s *Service) InsightsReport(ctx context.Context) (*Result, error) {
	return s.cacheThrough(ctx, KindInsights, "", func(ctx context.Context) (any, error) {
		events, err := s.store.ScanAll(ctx, eventstore.ScanOptions{})
		if err != nil {
			return nil, err
		}

		total := len(events)
		upcoming := 0
		classified := 0
		for _, e := range events {
			if e.StatusCode == string(models.StatusUpcoming) {
				upcoming++
			}
			if len(classifier.MatchBuckets(e.EventType)) > 0 {
				classified++
			}
		}

		stats := classifier.TypeStats(events)
		buckets := make([]BucketInsight, 0, len(stats))
		for _, st := range stats {
			pct := 0.0
			if total > 0 {
				pct = round1(float64(st.TotalEvents) / float64(total) * 100)
			}
			buckets = append(buckets, BucketInsight{
				BucketStat:     st,
				BusinessImpact: businessImpact(st),
				PercentOfTotal: pct,
			})
		}

		summary := InsightsSummary{
			TotalEvents:    total,
			UpcomingEvents: upcoming,
		}
		if total > 0 {
			summary.ActionRequiredPercent = round1(float64(upcoming) / float64(total) * 100)
			summary.ClassificationCoverage = round1(float64(classified) / float64(total) * 100)
		}

		return &InsightsReport{
			GeneratedAt: time.Now(),
			Summary:     summary,
			Buckets:     buckets,
			TopServices: classifier.TopN(events, 10, func(e models.HealthEvent) string { return e.Service }),
			TopTypes:    classifier.TopN(events, 10, func(e models.HealthEvent) string { return e.EventType }),
		}, nil
	})
}

// refreshableKinds are the kinds a bulk refresh deletes. The TTL-boxed
// critical-events analyses are deleted too but only regenerate through
// their own refresh endpoints, since rebuilding them means invoking the
// analysis agent.
func refreshableKinds() []string {
	return []string{
		KindCategoriesSummary,
		KindCategoryStats,
		KindTypeStats,
		KindCategoryDetails,
		KindTypeDetails,
		KindInsights,
		KindCriticalEvents,
		KindCriticalEvents60,
		KindCriticalEventsPastDue,
	}
}

// RefreshAll deletes every known cache file and regenerates the
// scan-derived reports. Best effort: a failed regeneration leaves that
// kind empty for the next read to rebuild lazily.
func (s *Service) RefreshAll(ctx context.Context) error {
	if err := s.cache.InvalidateKinds(refreshableKinds()...); err != nil {
		return err
	}

	var errs []error
	if _, err := s.CategoriesSummary(ctx); err != nil {
		errs = append(errs, fmt.Errorf("categories summary: %w", err))
	}
	if _, err := s.CategoryStats(ctx); err != nil {
		errs = append(errs, fmt.Errorf("category stats: %w", err))
	}
	if _, err := s.TypeStats(ctx); err != nil {
		errs = append(errs, fmt.Errorf("type stats: %w", err))
	}
	for _, c := range models.Categories() {
		if _, err := s.CategoryDetails(ctx, string(c)); err != nil {
			errs = append(errs, fmt.Errorf("category details %s: %w", c, err))
		}
	}
	for _, b := range classifier.Buckets() {
		if _, err := s.TypeDetails(ctx, string(b)); err != nil {
			errs = append(errs, fmt.Errorf("type details %s: %w", b, err))
		}
	}
	if _, err := s.InsightsReport(ctx); err != nil {
		errs = append(errs, fmt.Errorf("insights report: %w", err))
	}

	return errors.Join(errs...)
}

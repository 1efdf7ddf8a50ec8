package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/temcen/dinewise/internal/config"
	"github.com/temcen/dinewise/pkg/models"
)

const (
	mixedHighRatedMinRating = 4.0
	mixedStrategies         = 4
)

// StrategyResult is the outcome of one strategy inside a mixed request.
type StrategyResult struct {
	Strategy string                    `json:"strategy"`
	Items    []models.ScoredRestaurant `json:"-"`
	Count    int                       `json:"count"`
	Latency  time.Duration             `json:"latency"`
	Error    error                     `json:"-"`
}

// StrategyFailure records a strategy that contributed nothing because it failed.
type StrategyFailure struct {
	Strategy string `json:"strategy"`
	Reason   string `json:"reason"`
}

// MixedResult is the merged list plus what each strategy did.
type MixedResult struct {
	Recommendations []models.ScoredRestaurant `json:"recommendations"`
	Strategies      []StrategyResult          `json:"strategies"`
	Failures        []StrategyFailure         `json:"failures,omitempty"`
}

// MixedAggregator fans out to four strategies and merges their candidates.
type MixedAggregator struct {
	generators CandidateGenerator
	metrics    *RecommendationMetrics
	config     config.RecommendationConfig
	logger     *logrus.Logger
}

func NewMixedAggregator(
	generators CandidateGenerator,
	metrics *RecommendationMetrics,
	cfg config.RecommendationConfig,
	logger *logrus.Logger,
) *MixedAggregator {
	return &MixedAggregator{
		generators: generators,
		metrics:    metrics,
		config:     cfg,
		logger:     logger,
	}
}

// Mixed asks each strategy for ceil(limit/4) candidates, merges them in
// strategy order keeping the first occurrence of every restaurant, re-sorts by
// aggregate rating and truncates to limit. A failing strategy contributes an
// empty list.
func (a *MixedAggregator) Mixed(ctx context.Context, userID uuid.UUID, limit int) (*MixedResult, error) {
	partial := (limit + mixedStrategies - 1) / mixedStrategies

	strategies := []struct {
		name string
		run  func(ctx context.Context) ([]models.ScoredRestaurant, error)
	}{
		{models.SourcePersonalized, func(ctx context.Context) ([]models.ScoredRestaurant, error) {
			return a.generators.Personalized(ctx, userID, partial, false)
		}},
		{models.SourceCollaborative, func(ctx context.Context) ([]models.ScoredRestaurant, error) {
			return a.generators.Collaborative(ctx, userID, partial)
		}},
		{models.SourceTrending, func(ctx context.Context) ([]models.ScoredRestaurant, error) {
			return a.generators.Trending(ctx, partial, a.trendingDays())
		}},
		{models.SourceHighRated, func(ctx context.Context) ([]models.ScoredRestaurant, error) {
			items, err := a.generators.Filtered(ctx, models.RestaurantFilter{MinRating: mixedHighRatedMinRating}, partial)
			for i := range items {
				items[i].Source = models.SourceHighRated
			}
			return items, err
		}},
	}

	// One slot per strategy keeps the merge order fixed regardless of finish order
	results := make([]StrategyResult, len(strategies))

	var wg sync.WaitGroup
	for i, strategy := range strategies {
		wg.Add(1)
		go func(i int, name string, run func(context.Context) ([]models.ScoredRestaurant, error)) {
			defer wg.Done()

			strategyCtx, cancel := a.strategyContext(ctx)
			defer cancel()

			start := time.Now()
			items, err := run(strategyCtx)
			latency := time.Since(start)

			a.metrics.observeStrategy(name, latency, err)

			if err != nil {
				a.logger.WithError(err).WithFields(logrus.Fields{
					"strategy": name,
					"user_id":  userID,
					"latency":  latency,
				}).Warn("Strategy failed, continuing without it")
				items = nil
			}

			results[i] = StrategyResult{
				Strategy: name,
				Items:    items,
				Count:    len(items),
				Latency:  latency,
				Error:    err,
			}
		}(i, strategy.name, strategy.run)
	}
	wg.Wait()

	return a.merge(results, limit), nil
}

func (a *MixedAggregator) merge(results []StrategyResult, limit int) *MixedResult {
	out := &MixedResult{Strategies: results}

	var all []models.ScoredRestaurant
	for _, result := range results {
		if result.Error != nil {
			out.Failures = append(out.Failures, StrategyFailure{
				Strategy: result.Strategy,
				Reason:   result.Error.Error(),
			})
			continue
		}
		all = append(all, result.Items...)
	}

	unique := lo.UniqBy(all, func(r models.ScoredRestaurant) uuid.UUID {
		return r.ID
	})

	// Strategy scores are not comparable; the merged list ranks by rating only
	for i := range unique {
		unique[i].Score = unique[i].AverageRating
	}
	sort.SliceStable(unique, func(i, j int) bool {
		return unique[i].AverageRating > unique[j].AverageRating
	})

	if len(unique) > limit {
		unique = unique[:limit]
	}
	out.Recommendations = unique

	return out
}

func (a *MixedAggregator) strategyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.StrategyTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.config.StrategyTimeout)
}

func (a *MixedAggregator) trendingDays() int {
	if a.config.TrendingDays > 0 {
		return a.config.TrendingDays
	}
	return 30
}

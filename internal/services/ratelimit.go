package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/temcen/dinewise/internal/config"
	"github.com/temcen/dinewise/pkg/models"
)

// RateLimitService applies a per-user sliding window kept in Redis. While Redis
// is unreachable each instance falls back to an in-process token bucket with the
// same average rate.
type RateLimitService struct {
	config      *config.Config
	logger      *logrus.Logger
	redisClient redis.Cmdable

	mu       sync.Mutex
	fallback map[string]*rate.Limiter
}

func NewRateLimitService(cfg *config.Config, logger *logrus.Logger, redisClient redis.Cmdable) *RateLimitService {
	return &RateLimitService{
		config:      cfg,
		logger:      logger,
		redisClient: redisClient,
		fallback:    make(map[string]*rate.Limiter),
	}
}

func (s *RateLimitService) CheckLimit(ctx context.Context, userID string, role models.Role) (bool, *models.RateLimitInfo) {
	limit := s.getLimitForRole(role)
	window := s.config.Auth.RateLimit.Window

	key := fmt.Sprintf("rate_limit:user:%s", userID)

	now := time.Now()
	windowStart := now.Add(-window)
	resetTime := now.Add(window).Unix()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	pipe := s.redisClient.Pipeline()

	// Remove expired entries
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))

	// Count requests still inside the window, excluding this one
	countCmd := pipe.ZCard(ctx, key)

	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()),
	})

	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.WithError(err).Warn("Rate limit store unavailable, using local limiter")
		return s.checkLocal(userID, limit, window, resetTime)
	}

	currentCount := int(countCmd.Val())
	remaining := limit - currentCount - 1
	if remaining < 0 {
		remaining = 0
	}

	return currentCount < limit, &models.RateLimitInfo{
		Limit:     limit,
		Remaining: remaining,
		ResetTime: resetTime,
	}
}

func (s *RateLimitService) checkLocal(userID string, limit int, window time.Duration, resetTime int64) (bool, *models.RateLimitInfo) {
	s.mu.Lock()
	limiter, ok := s.fallback[userID]
	if !ok {
		every := window / time.Duration(max(limit, 1))
		limiter = rate.NewLimiter(rate.Every(every), limit)
		s.fallback[userID] = limiter
	}
	s.mu.Unlock()

	allowed := limiter.Allow()
	remaining := int(limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}

	return allowed, &models.RateLimitInfo{
		Limit:     limit,
		Remaining: remaining,
		ResetTime: resetTime,
	}
}

func (s *RateLimitService) getLimitForRole(role models.Role) int {
	switch role {
	case models.RoleAdmin:
		return s.config.Auth.RateLimit.Admin
	default:
		return s.config.Auth.RateLimit.Default
	}
}

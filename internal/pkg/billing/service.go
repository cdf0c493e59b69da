package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/CostLensHQ/CostLens/app/models"
	"github.com/CostLensHQ/CostLens/internal/pkg/cache"
	"github.com/CostLensHQ/CostLens/internal/pkg/env"
	"github.com/CostLensHQ/CostLens/internal/pkg/jobqueue"
	"github.com/CostLensHQ/CostLens/internal/pkg/limitsync"
	"github.com/CostLensHQ/CostLens/internal/pkg/ratelimit"
	"gorm.io/gorm"
)

// RateLimiter admits or rejects an attempt; backed by a store shared across
// all running instances.
type RateLimiter interface {
	TryAcquire(ctx context.Context, subjectID uint, action ratelimit.Action) bool
}

// LimitsPusher mirrors derived limits to the backend limits service.
type LimitsPusher interface {
	Push(ctx context.Context, limits limitsync.OrgLimits, syncType limitsync.SyncType) limitsync.PushResult
}

// JobEnqueuer defers a limits push that exhausted its inline retries.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job *jobqueue.Job) error
}

// Config holds the service-level settings the orchestrators need.
type Config struct {
	// PublicURL is the configured trusted origin for checkout redirects.
	// Redirect targets are always built from it, never from request input.
	PublicURL string
	// DefaultTrialDays applies when a price carries no trial_days override.
	DefaultTrialDays int64
}

// Service is the subscription billing synchronization engine: it keeps
// billing state consistent across Stripe (source of truth), the primary
// datastore mirror and the backend limits service.
type Service struct {
	repo      Repository
	processor PaymentProcessor
	limiter   RateLimiter
	limits    LimitsPusher
	jobs      JobEnqueuer
	config    Config
}

// NewService wires the engine from injected collaborators.
func NewService(repo Repository, processor PaymentProcessor, limiter RateLimiter, limits LimitsPusher, config Config) *Service {
	config.PublicURL = strings.TrimRight(config.PublicURL, "/")
	return &Service{
		repo:      repo,
		processor: processor,
		limiter:   limiter,
		limits:    limits,
		config:    config,
	}
}

// SetJobQueue attaches a queue for deferred limits pushes. Without one,
// queued pushes are completed by the next resync only.
func (s *Service) SetJobQueue(q JobEnqueuer) {
	s.jobs = q
}

// NewServiceFromDB builds the production service from a GORM handle and
// environment configuration.
func NewServiceFromDB(db *gorm.DB) *Service {
	limiter := ratelimit.New(cache.GetClient(), ratelimit.DefaultCheckoutConfig(), "ratelimit:billing")
	pusher := limitsync.NewClient(limitsync.DefaultConfig(
		env.GetEnv("LIMITS_SERVICE_URL", "http://localhost:8081"),
		env.GetEnv("LIMITS_SERVICE_TOKEN", ""),
	))
	svc := NewService(
		NewRepository(db),
		NewStripeProcessor(env.GetEnv("STRIPE_SECRET_KEY", "")),
		limiter,
		pusher,
		Config{
			PublicURL:        env.GetEnv("APP_PUBLIC_URL", "http://localhost:4000"),
			DefaultTrialDays: int64(env.GetEnvInt("BILLING_TRIAL_DAYS", 0)),
		},
	)
	svc.SetJobQueue(jobqueue.NewQueue(cache.GetClient(), "jobqueue:limits"))
	return svc
}

// queueLimitsRetry hands a failed-but-retryable push to the background
// queue. Best effort: losing the job only delays convergence until the next
// resync or webhook.
func (s *Service) queueLimitsRetry(ctx context.Context, orgSlug string) {
	if s.jobs == nil {
		return
	}
	job, err := jobqueue.NewJob(jobqueue.JobTypeLimitsSync, jobqueue.LimitsSyncPayload{OrgSlug: orgSlug})
	if err != nil {
		log.Printf("Warning: building limits retry job for org %s failed: %v", orgSlug, err)
		return
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		log.Printf("Warning: enqueueing limits retry for org %s failed: %v", orgSlug, err)
	}
}

// RetryLimitsSync is the job handler completing a deferred limits push. A
// transient failure returns an error so the queue redelivers; a terminal
// failure is dropped because redelivery cannot fix it.
func (s *Service) RetryLimitsSync(ctx context.Context, job *jobqueue.Job) error {
	var payload jobqueue.LimitsSyncPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		log.Printf("Warning: dropping malformed limits retry job %s: %v", job.ID, err)
		return nil
	}

	org, err := s.repo.GetOrganizationBySlug(payload.OrgSlug)
	if err != nil {
		log.Printf("Warning: dropping limits retry for unknown org %s: %v", payload.OrgSlug, err)
		return nil
	}

	push := s.limits.Push(ctx, orgLimitsPayload(org), limitsync.SyncTypeResync)
	if push.Success {
		return nil
	}
	if push.Queued {
		return fmt.Errorf("limits push for org %s still failing: %w", org.Slug, push.Err)
	}
	log.Printf("Warning: dropping limits retry for org %s after terminal failure: %v", org.Slug, push.Err)
	return nil
}

// orgLimitsPayload maps the organization mirror columns into the limits
// service payload.
func orgLimitsPayload(org *models.Organization) limitsync.OrgLimits {
	return limitsync.OrgLimits{
		OrgSlug:             org.Slug,
		PlanName:            org.PlanID,
		BillingStatus:       org.BillingStatus,
		TrialEndsAt:         org.TrialEndsAt,
		SeatLimit:           org.SeatLimit,
		ProviderLimit:       org.ProviderLimit,
		PipelinesPerDay:     org.PipelinesPerDay,
		PipelinesPerMonth:   org.PipelinesPerMonth,
		ConcurrentPipelines: org.ConcurrentPipelines,
	}
}

// applyDescriptor copies derived plan state onto the organization mirror.
func applyDescriptor(org *models.Organization, d *PlanDescriptor) {
	org.PlanID = d.PlanID
	org.PriceID = d.PriceID
	org.SeatLimit = d.SeatLimit
	org.ProviderLimit = d.ProviderLimit
	org.PipelinesPerDay = d.PipelinesPerDay
	org.PipelinesPerWeek = d.PipelinesPerWeek
	org.PipelinesPerMonth = d.PipelinesPerMonth
	org.ConcurrentPipelines = d.ConcurrentPipelines
}

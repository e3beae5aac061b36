// Package refresh drives the blocklist refresh cycle: fetch and merge the
// configured sources, synthesize a fresh configuration and hand it to the
// apply controller. A scheduler runs the cycle daily and once eagerly on
// first start, a manual trigger runs the identical cycle out of band.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fwellner/unbound-admin/internal/apply"
	"github.com/fwellner/unbound-admin/internal/blocklist"
	"github.com/fwellner/unbound-admin/internal/settings"
)

type (
	// The Refresher type runs one full refresh cycle.
	Refresher struct {
		store     *settings.Store
		sources   *settings.Sources
		whitelist *settings.Whitelist
		status    *settings.Status
		pipeline  *blocklist.Pipeline
		builder   *apply.Builder
		applier   *apply.Controller
		logger    *slog.Logger
	}

	// The Summary type reports the outcome of one refresh cycle.
	Summary struct {
		DomainsBlocked int                       `json:"domains_blocked"`
		Failures       []blocklist.SourceFailure `json:"errors"`
		Apply          apply.Result              `json:"apply"`
	}
)

// NewRefresher wires a Refresher from its collaborators.
func NewRefresher(
	store *settings.Store,
	sources *settings.Sources,
	whitelist *settings.Whitelist,
	status *settings.Status,
	pipeline *blocklist.Pipeline,
	builder *apply.Builder,
	applier *apply.Controller,
	logger *slog.Logger,
) *Refresher {
	return &Refresher{
		store:     store,
		sources:   sources,
		whitelist: whitelist,
		status:    status,
		pipeline:  pipeline,
		builder:   builder,
		applier:   applier,
		logger:    logger,
	}
}

// Refresh runs one cycle: pipeline, synthesis, apply. Per-source failures are
// recorded in the status store and returned, they never abort the cycle.
func (r *Refresher) Refresh(ctx context.Context) (*Summary, error) {
	urls, err := r.sources.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list blocklist sources: %w", err)
	}

	whitelist, err := r.whitelist.Set()
	if err != nil {
		return nil, fmt.Errorf("failed to load whitelist: %w", err)
	}

	result, err := r.pipeline.Refresh(ctx, urls, whitelist)
	if err != nil {
		return nil, err
	}

	if err = r.recordStatus(urls, result); err != nil {
		r.logger.With("error", err).Warn("failed to persist blocklist status")
	}

	fragment := blocklist.Fragment(result.Domains)
	candidate, err := r.builder.Build(r.store.Load(), &fragment, nil)
	if err != nil {
		return nil, err
	}

	applied, err := r.applier.Apply(ctx, candidate)
	if err != nil {
		return nil, err
	}

	return &Summary{
		DomainsBlocked: len(result.Domains),
		Failures:       result.Failures,
		Apply:          applied,
	}, nil
}

func (r *Refresher) recordStatus(urls []string, result *blocklist.Result) error {
	now := time.Now()
	failed := make(map[string]string, len(result.Failures))
	for _, failure := range result.Failures {
		failed[failure.URL] = failure.Reason
	}

	status := make(map[string]settings.SourceStatus, len(urls))
	for _, url := range urls {
		status[url] = settings.SourceStatus{
			Domains:     result.Counts[url],
			LastRefresh: now,
			Error:       failed[url],
		}
	}

	return r.status.Put(status)
}

type (
	// The Scheduler type runs a Refresher on a fixed interval, once eagerly
	// when no prior state exists and on demand via Trigger.
	Scheduler struct {
		refresher *Refresher
		interval  time.Duration
		statePath string
		logger    *slog.Logger
		trigger   chan struct{}
	}
)

// NewScheduler returns a Scheduler running refresher every interval.
// statePath names a file whose absence marks a first run, in which case a
// refresh is performed eagerly on start.
func NewScheduler(refresher *Refresher, interval time.Duration, statePath string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		refresher: refresher,
		interval:  interval,
		statePath: statePath,
		logger:    logger,
		trigger:   make(chan struct{}, 1),
	}
}

// Trigger requests an out-of-band refresh. Requests arriving while a refresh
// is pending coalesce into one.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run the scheduler until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := os.Stat(s.statePath); err != nil {
		s.logger.Info("no prior blocklist state, refreshing eagerly")
		s.refresh(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// Nothing to do on the periodic tick until sources are configured.
			// Manual triggers still run so operators can force fragment
			// regeneration at any time.
			urls, err := s.refresher.sources.List()
			if err == nil && len(urls) == 0 {
				continue
			}

			s.refresh(ctx)
		case <-s.trigger:
			s.refresh(ctx)
		}
	}
}

func (s *Scheduler) refresh(ctx context.Context) {
	summary, err := s.refresher.Refresh(ctx)
	if err != nil {
		s.logger.With("error", err).Error("blocklist refresh failed")
		return
	}

	s.logger.With(
		"blocked", summary.DomainsBlocked,
		"failures", len(summary.Failures),
		"outcome", summary.Apply.Outcome,
	).Info("blocklist refresh complete")
}

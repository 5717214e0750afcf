package recon

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/paymentops/reconciler/internal/logging"
	"github.com/paymentops/reconciler/internal/retry"
	"github.com/paymentops/reconciler/internal/syncutil"
	"github.com/paymentops/reconciler/internal/traces"
)

// ErrRunInProgress is returned when a run for the same (platform, date)
// is already executing. Duplicate runs are rejected, not queued.
var ErrRunInProgress = errors.New("reconciliation already running for this platform and date")

// SettlementSource fetches platform-reported settlement records.
type SettlementSource interface {
	FetchSettlements(ctx context.Context, platform string, date time.Time) ([]SettlementRecord, error)
}

// EventSource fetches internally recorded payment lifecycle events.
type EventSource interface {
	FetchInternalEvents(ctx context.Context, platform string, date time.Time) ([]InternalEvent, error)
}

// retryable is implemented by provider errors that know whether a
// failed fetch is worth repeating.
type retryable interface {
	Retryable() bool
}

// Fetch retry parameters. Collection is the only I/O in a run.
const (
	fetchAttempts  = 3
	fetchBaseDelay = 2 * time.Second
)

// Service orchestrates per-platform reconciliation runs and aggregates
// them into date-level combined outcomes.
type Service struct {
	settlements SettlementSource
	events      EventSource
	store       OutcomeStore
	matcher     *Matcher
	analyzer    *Analyzer
	platforms   []string
	guard       *syncutil.KeyGuard

	now func() time.Time
}

// NewService creates a reconciliation orchestrator over the given sources
// and outcome store. platforms is the set reconciled by ReconcileAll.
func NewService(settlements SettlementSource, events EventSource, store OutcomeStore, platforms []string) *Service {
	return &Service{
		settlements: settlements,
		events:      events,
		store:       store,
		matcher:     NewMatcher(),
		analyzer:    NewAnalyzer(),
		platforms:   platforms,
		guard:       syncutil.NewKeyGuard(),
		now:         time.Now,
	}
}

// Platforms returns the platforms covered by ReconcileAll.
func (s *Service) Platforms() []string {
	out := make([]string, len(s.platforms))
	copy(out, s.platforms)
	return out
}

// Reconcile runs the pipeline for one platform and date. Without force,
// an existing outcome for the key is returned unchanged. A concurrent
// run for the same key is rejected with ErrRunInProgress.
func (s *Service) Reconcile(ctx context.Context, platform string, date time.Time, force bool) (*Outcome, error) {
	dateKey := DateKey(date)

	release, ok := s.guard.TryAcquire(platform + ":" + dateKey)
	if !ok {
		return nil, ErrRunInProgress
	}
	defer release()

	if !force {
		if existing, err := s.store.Get(ctx, platform, dateKey); err == nil {
			return existing, nil
		} else if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("load existing outcome: %w", err)
		}
	}

	ctx, span := traces.StartSpan(ctx, "recon.Reconcile",
		traces.Platform(platform), traces.Date(dateKey))
	defer span.End()

	settlements, events, err := s.collect(ctx, platform, date)
	if err != nil {
		reconCollectionErrors.WithLabelValues(platform).Inc()
		return nil, err
	}

	started := s.now()
	result := s.matcher.Run(settlements, events)
	found := s.analyzer.Analyze(result.Matches)
	resolved, unresolved := s.analyzer.Resolve(found, s.now())
	elapsed := s.now().Sub(started)

	outcome := BuildOutcome(platform, dateKey, result, resolved, unresolved, elapsed, s.now())

	if err := s.store.Save(ctx, outcome); err != nil {
		return nil, fmt.Errorf("save outcome: %w", err)
	}

	observeOutcome(outcome, elapsed.Seconds())
	logging.L(ctx).Info("reconciliation run complete",
		"platform", platform,
		"date", dateKey,
		"status", outcome.Status,
		"matching_rate", outcome.MatchingRate,
		"unresolved", outcome.Unresolved,
	)

	return outcome, nil
}

// ReconcileAll runs every configured platform for the date concurrently.
// One platform's collection failure does not abort the others; failures
// are recorded in the combined outcome's error map. The returned error is
// non-nil when any platform failed, so callers can drive retries, but the
// combined outcome is always returned.
func (s *Service) ReconcileAll(ctx context.Context, date time.Time, force bool) (*CombinedOutcome, error) {
	dateKey := DateKey(date)

	ctx, span := traces.StartSpan(ctx, "recon.ReconcileAll", traces.Date(dateKey))
	defer span.End()

	type platformResult struct {
		platform string
		outcome  *Outcome
		err      error
	}

	results := make(chan platformResult, len(s.platforms))
	var wg sync.WaitGroup
	for _, platform := range s.platforms {
		wg.Add(1)
		go func(platform string) {
			defer wg.Done()
			o, err := s.Reconcile(ctx, platform, date, force)
			results <- platformResult{platform: platform, outcome: o, err: err}
		}(platform)
	}
	wg.Wait()
	close(results)

	outcomes := make(map[string]*Outcome)
	errs := make(map[string]string)
	for r := range results {
		if r.err != nil {
			errs[r.platform] = r.err.Error()
			logging.L(ctx).Error("platform reconciliation failed",
				"platform", r.platform, "date", dateKey, "error", r.err)
			continue
		}
		outcomes[r.platform] = r.outcome
	}

	combined := CombineOutcomes(dateKey, outcomes, errs, s.now())

	if len(errs) > 0 {
		platforms := make([]string, 0, len(errs))
		for p := range errs {
			platforms = append(platforms, p)
		}
		sort.Strings(platforms)
		return combined, fmt.Errorf("data collection failed for %s", strings.Join(platforms, ", "))
	}
	return combined, nil
}

// Outcome returns the stored outcome for a (platform, date) key.
func (s *Service) Outcome(ctx context.Context, platform, date string) (*Outcome, error) {
	return s.store.Get(ctx, platform, date)
}

// OutcomesByDate returns all platforms' stored outcomes for one date.
func (s *Service) OutcomesByDate(ctx context.Context, date string) ([]*Outcome, error) {
	return s.store.ByDate(ctx, date)
}

// Trend summarizes a platform's rolling outcome history.
func (s *Service) Trend(ctx context.Context, platform string) (*TrendReport, error) {
	history, err := s.store.History(ctx, platform, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return AnalyzeTrend(platform, history), nil
}

// History exposes the rolling outcome history, newest first.
func (s *Service) History(ctx context.Context, platform string, limit int) ([]*Outcome, error) {
	if limit <= 0 || limit > historyLimit {
		limit = historyLimit
	}
	return s.store.History(ctx, platform, limit)
}

// collect fetches both sides' data, retrying transient provider faults.
func (s *Service) collect(ctx context.Context, platform string, date time.Time) ([]SettlementRecord, []InternalEvent, error) {
	var settlements []SettlementRecord
	err := retry.Do(ctx, fetchAttempts, fetchBaseDelay, func() error {
		recs, ferr := s.settlements.FetchSettlements(ctx, platform, date)
		if ferr != nil {
			return markPermanent(ferr)
		}
		settlements = recs
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("fetch settlements for %s: %w", platform, err)
	}

	var events []InternalEvent
	err = retry.Do(ctx, fetchAttempts, fetchBaseDelay, func() error {
		evs, ferr := s.events.FetchInternalEvents(ctx, platform, date)
		if ferr != nil {
			return markPermanent(ferr)
		}
		events = evs
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("fetch internal events for %s: %w", platform, err)
	}

	return settlements, events, nil
}

// markPermanent stops retrying errors the provider flags as not retryable.
func markPermanent(err error) error {
	var r retryable
	if errors.As(err, &r) && !r.Retryable() {
		return retry.Permanent(err)
	}
	return err
}

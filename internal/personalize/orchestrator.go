// Package personalize runs the page personalization pipeline: resolve the
// visitor's segment, fetch the page from the CMS, rewrite it for the segment,
// and store the variant for later delivery.
package personalize

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/contentops/tailor/config"
	"github.com/contentops/tailor/internal/telemetry"
	"github.com/contentops/tailor/models"
)

// State names the pipeline step a run is in. Runs move strictly forward;
// StateFailed is terminal from any step.
type State string

const (
	StateResolvingSegment State = "RESOLVING_SEGMENT"
	StateClaiming         State = "CLAIMING"
	StateFetchingContent  State = "FETCHING_CONTENT"
	StateRewriting        State = "REWRITING"
	StateStoring          State = "STORING"
	StateDone             State = "DONE"
	StateFailed           State = "FAILED"
)

// SegmentResolver maps a visitor id to a segment.
type SegmentResolver interface {
	Resolve(ctx context.Context, visitorID string) (models.Segment, error)
}

// ContentFetcher loads baseline page content from the CMS.
type ContentFetcher interface {
	FetchPage(ctx context.Context, pageID string) (models.PageContent, error)
}

// Rewriter produces a segment-specific variant of page content.
type Rewriter interface {
	Rewrite(ctx context.Context, content models.PageContent, segment models.Segment) (models.PageContent, error)
}

// PageStore persists and serves personalized variants.
type PageStore interface {
	Put(ctx context.Context, page models.PersonalizedPage) error
	Get(ctx context.Context, pageID string, segment models.Segment) (models.PersonalizedPage, error)
}

// Claimer serializes runs per (page_id, segment).
type Claimer interface {
	Acquire(ctx context.Context, pageID string, segment models.Segment, runID string) error
	Release(ctx context.Context, pageID string, segment models.Segment, runID string)
}

// Orchestrator drives personalization runs through the pipeline states.
type Orchestrator struct {
	resolver SegmentResolver
	fetcher  ContentFetcher
	rewriter Rewriter
	store    PageStore
	claimer  Claimer

	config        config.PersonalizationConfig
	maxProcessing time.Duration
	telemetry     *telemetry.Telemetry
	semaphore     chan struct{}
	logger        *log.Logger
}

func NewOrchestrator(
	resolver SegmentResolver,
	fetcher ContentFetcher,
	rewriter Rewriter,
	pages PageStore,
	claimer Claimer,
	cfg config.PersonalizationConfig,
	maxProcessing time.Duration,
	tel *telemetry.Telemetry,
) *Orchestrator {
	cfg = cfg.Normalize()
	if maxProcessing <= 0 {
		maxProcessing = 3 * time.Minute
	}
	return &Orchestrator{
		resolver:      resolver,
		fetcher:       fetcher,
		rewriter:      rewriter,
		store:         pages,
		claimer:       claimer,
		config:        cfg,
		maxProcessing: maxProcessing,
		telemetry:     tel,
		semaphore:     make(chan struct{}, cfg.MaxConcurrent),
		logger:        log.New(log.Writer(), "[ORCH] ", log.LstdFlags),
	}
}

// Personalize runs the full pipeline for one request. The run is decoupled
// from the caller's cancellation: a dropped connection must not abandon a
// rewrite whose result the next fetch needs. The run still carries an overall
// deadline so nothing lingers.
func (o *Orchestrator) Personalize(ctx context.Context, req models.PersonalizationRequest) (models.OperationResult, error) {
	runID := uuid.NewString()
	started := time.Now()

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.maxProcessing)
	defer cancel()

	result, err := o.run(runCtx, runID, req)
	o.telemetry.RecordRun(telemetry.RunEvent{
		RunID:     runID,
		PageID:    req.PageID,
		Segment:   string(result.Segment),
		Success:   result.Success,
		ErrorKind: result.ErrorKind,
		Duration:  time.Since(started),
	})
	return result, err
}

func (o *Orchestrator) run(ctx context.Context, runID string, req models.PersonalizationRequest) (models.OperationResult, error) {
	state := StateResolvingSegment
	o.logger.Printf("run %s page=%s visitor=%s state=%s", runID, req.PageID, req.VisitorID, state)

	segment := models.Segment(req.SegmentHint)
	if segment == "" {
		var err error
		err = o.withRetry(ctx, "resolve segment", func(ctx context.Context) error {
			var rerr error
			segment, rerr = o.resolver.Resolve(ctx, req.VisitorID)
			return rerr
		})
		if errors.Is(err, models.ErrSegmentUnavailable) {
			// known fallback: the visitor still gets a page, just the
			// generic one.
			segment = models.Segment(o.config.DefaultSegment)
			o.logger.Printf("run %s: segment unresolved for visitor %s, using default %q", runID, req.VisitorID, segment)
			err = nil
		}
		if err != nil {
			return o.fail(runID, state, segment, err)
		}
	}

	state = StateClaiming
	if err := o.claimer.Acquire(ctx, req.PageID, segment, runID); err != nil {
		return o.fail(runID, state, segment, err)
	}
	defer o.claimer.Release(context.WithoutCancel(ctx), req.PageID, segment, runID)

	state = StateFetchingContent
	o.logger.Printf("run %s state=%s segment=%s", runID, state, segment)
	var content models.PageContent
	err := o.withRetry(ctx, "fetch page", func(ctx context.Context) error {
		var ferr error
		content, ferr = o.fetcher.FetchPage(ctx, req.PageID)
		return ferr
	})
	if err != nil {
		return o.fail(runID, state, segment, err)
	}

	state = StateRewriting
	o.logger.Printf("run %s state=%s fields=%d", runID, state, len(content.Fields))
	var rewritten models.PageContent
	err = o.withSlot(ctx, func(ctx context.Context) error {
		return o.withRetry(ctx, "rewrite", func(ctx context.Context) error {
			var rerr error
			rewritten, rerr = o.rewriter.Rewrite(ctx, content, segment)
			return rerr
		})
	})
	if err != nil {
		return o.fail(runID, state, segment, err)
	}

	state = StateStoring
	page := models.PersonalizedPage{
		PageID:    req.PageID,
		Segment:   segment,
		Content:   rewritten,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.store.Put(ctx, page); err != nil {
		return o.fail(runID, state, segment, err)
	}

	state = StateDone
	o.logger.Printf("run %s state=%s page=%s segment=%s", runID, state, req.PageID, segment)
	return models.OperationResult{Success: true, Segment: segment, RunID: runID}, nil
}

// Lookup is the read path of the two-phase protocol. It never triggers a new
// run: a miss is a miss, and the caller decides whether to personalize again.
func (o *Orchestrator) Lookup(ctx context.Context, pageID string, segment models.Segment) (models.PersonalizedPage, error) {
	return o.store.Get(ctx, pageID, segment)
}

// ResolveSegment resolves a visitor's segment outside a run, falling back to
// the default segment when the CDP has nothing. Used by the fetch endpoint.
func (o *Orchestrator) ResolveSegment(ctx context.Context, visitorID string) models.Segment {
	segment, err := o.resolver.Resolve(ctx, visitorID)
	if err != nil {
		return models.Segment(o.config.DefaultSegment)
	}
	return segment
}

func (o *Orchestrator) fail(runID string, state State, segment models.Segment, err error) (models.OperationResult, error) {
	o.logger.Printf("run %s state=%s -> %s: %v", runID, state, StateFailed, err)
	return models.OperationResult{
		Success:   false,
		ErrorKind: models.ErrorKind(err),
		Segment:   segment,
		RunID:     runID,
	}, err
}

// withRetry retries fn on transient failures with exponential backoff.
// Permanent failures (page not found, rejected rewrite) surface immediately.
func (o *Orchestrator) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := o.config.RetryBackoff * time.Duration(1<<(attempt-1))
			o.logger.Printf("%s failed (attempt %d/%d), retrying in %s: %v",
				op, attempt, o.config.MaxRetries, backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", op, ctx.Err())
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if !models.Retryable(err) {
			return err
		}
	}
	return err
}

// withSlot bounds the number of simultaneous rewrites.
func (o *Orchestrator) withSlot(ctx context.Context, fn func(context.Context) error) error {
	select {
	case o.semaphore <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-o.semaphore }()
	return fn(ctx)
}

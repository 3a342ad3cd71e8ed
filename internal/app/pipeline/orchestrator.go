package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/streetlens/batchtrack/internal/domain/tracking"
	"github.com/streetlens/batchtrack/pkg/common"
	"github.com/streetlens/batchtrack/pkg/common/logger"
)

// Config controls one orchestrated batch run.
type Config struct {
	Customer string
	RunID    string
	Model    string

	// Resumable enables the claim/complete state machine: already-processed
	// images are skipped and each image is claimed before inference. Without
	// it the run records detections and the audit row only.
	Resumable bool

	// ReportingRequired is forwarded to the run recorder.
	ReportingRequired bool

	// DetectionRPS rate-limits calls to the inference collaborator. Zero
	// disables limiting.
	DetectionRPS   float64
	DetectionBurst int
}

// Orchestrator processes a feed of images sequentially: claim, infer
// (external), record detections, complete. Images are processed one at a time
// within the process; concurrent workers race on claims by design.
type Orchestrator struct {
	cfg Config

	sessions   tracking.UnitOfWorkRunner
	images     tracking.ImageStatusRepository
	detections tracking.DetectionRepository
	runs       tracking.RunRepository
	detector   tracking.Detector
	feed       tracking.ImageFeed
	recorder   *RunRecorder
	limiter    *common.RateLimiter

	logger *logger.Logger
	tracer trace.Tracer
}

// NewOrchestrator wires an orchestrator for one run.
func NewOrchestrator(
	cfg Config,
	sessions tracking.UnitOfWorkRunner,
	images tracking.ImageStatusRepository,
	detections tracking.DetectionRepository,
	runs tracking.RunRepository,
	detector tracking.Detector,
	feed tracking.ImageFeed,
	recorder *RunRecorder,
	log *logger.Logger,
	tracer trace.Tracer,
) *Orchestrator {
	var limiter *common.RateLimiter
	if cfg.DetectionRPS > 0 {
		burst := cfg.DetectionBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = common.NewRateLimiter(cfg.DetectionRPS, burst)
	}

	return &Orchestrator{
		cfg:        cfg,
		sessions:   sessions,
		images:     images,
		detections: detections,
		runs:       runs,
		detector:   detector,
		feed:       feed,
		recorder:   recorder,
		limiter:    limiter,
		logger:     log.With("component", "orchestrator", "run_id", cfg.RunID),
		tracer:     tracer,
	}
}

// Run executes the batch under run auditing: on failure the recorder persists
// the FAILED row and re-raises the cause; on success Run writes the SUCCEEDED
// row itself before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	startTime := time.Now()
	meta := RunMetadata{
		RunID:             o.cfg.RunID,
		StartTime:         startTime,
		Model:             o.cfg.Model,
		ReportingRequired: o.cfg.ReportingRequired,
	}

	return o.recorder.Record(ctx, meta, func(ctx context.Context) error {
		if err := o.process(ctx); err != nil {
			return err
		}
		return o.recordSuccess(ctx, startTime)
	})
}

func (o *Orchestrator) process(ctx context.Context) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.process",
		trace.WithAttributes(
			attribute.String("customer", o.cfg.Customer),
			attribute.String("run_id", o.cfg.RunID),
			attribute.Bool("resumable", o.cfg.Resumable),
		),
	)
	defer span.End()

	skip, err := o.completedSet(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "loading completed images failed")
		return err
	}

	var processed, skipped int
	for {
		ref, ok, err := o.feed.Next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "image feed failed")
			return fmt.Errorf("reading image feed: %w", err)
		}
		if !ok {
			break
		}

		if _, done := skip[ref.Key()]; done {
			skipped++
			o.logger.Debug(ctx, "Skipping already-processed image", "image", ref.Key())
			continue
		}

		if err := o.processImage(ctx, ref); err != nil {
			return err
		}
		processed++
	}

	span.SetAttributes(
		attribute.Int("images_processed", processed),
		attribute.Int("images_skipped", skipped),
	)
	o.logger.Info(ctx, "Batch processing finished", "processed", processed, "skipped", skipped)
	return nil
}

// completedSet loads the keys to skip on a resumable run.
func (o *Orchestrator) completedSet(ctx context.Context) (map[string]struct{}, error) {
	if !o.cfg.Resumable {
		return nil, nil
	}

	var refs []tracking.ImageRef
	err := o.sessions.WithinUnitOfWork(ctx, func(ctx context.Context, uow tracking.UnitOfWork) error {
		var qErr error
		refs, qErr = o.images.QueryCompleted(ctx, uow, o.cfg.Customer,
			[]tracking.ProcessingStatus{tracking.StatusProcessed})
		return qErr
	})
	if err != nil {
		return nil, fmt.Errorf("querying completed images: %w", err)
	}

	skip := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		skip[ref.Key()] = struct{}{}
	}
	return skip, nil
}

// processImage runs the per-image sequence. The claim commits in its own unit
// of work before inference so other workers can observe the in_progress state;
// detection rows and the completion upsert commit atomically together
// afterwards. A crash between the two leaves the image in_progress with no
// lease expiry.
func (o *Orchestrator) processImage(ctx context.Context, ref tracking.ImageRef) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.process_image",
		trace.WithAttributes(attribute.String("image", ref.Key())),
	)
	defer span.End()

	if o.cfg.Resumable {
		err := o.sessions.WithinUnitOfWork(ctx, func(ctx context.Context, uow tracking.UnitOfWork) error {
			return o.images.Claim(ctx, uow, ref)
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "claim failed")
			return fmt.Errorf("claiming %s: %w", ref.Key(), err)
		}
	}

	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	detections, dims, err := o.detector.Detect(ctx, ref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "inference failed")
		return fmt.Errorf("detecting objects in %s: %w", ref.Key(), err)
	}
	span.SetAttributes(attribute.Int("num_detections", len(detections)))

	err = o.sessions.WithinUnitOfWork(ctx, func(ctx context.Context, uow tracking.UnitOfWork) error {
		if err := o.detections.RecordOutcome(ctx, uow, ref, o.cfg.RunID, dims, detections); err != nil {
			return err
		}
		if o.cfg.Resumable {
			return o.images.Complete(ctx, uow, ref)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recording failed")
		return fmt.Errorf("recording outcome for %s: %w", ref.Key(), err)
	}

	return nil
}

func (o *Orchestrator) recordSuccess(ctx context.Context, startTime time.Time) error {
	run, err := tracking.NewBatchRun(o.cfg.RunID, o.cfg.Model, startTime)
	if err != nil {
		return err
	}
	if err := run.Succeed(time.Now()); err != nil {
		return err
	}

	err = o.sessions.WithinUnitOfWork(ctx, func(ctx context.Context, uow tracking.UnitOfWork) error {
		return o.runs.RecordRun(ctx, uow, run)
	})
	if err != nil {
		return fmt.Errorf("recording run success: %w", err)
	}

	o.logger.Info(ctx, "Run succeeded", "run_id", o.cfg.RunID)
	return nil
}

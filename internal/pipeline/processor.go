package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pixelkit/internal/domain"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const DefaultCallTimeout = 30 * time.Second

// Observer receives processing measurements. Metrics implements it.
type Observer interface {
	ObserveTransform(op domain.Op, outcome string, elapsed time.Duration)
	ObserveCompressAttempts(attempts int, hitTarget bool)
}

type nopObserver struct{}

func (nopObserver) ObserveTransform(domain.Op, string, time.Duration) {}
func (nopObserver) ObserveCompressAttempts(int, bool)                 {}

// Processor turns a TransformRequest into a Result by driving a Backend. It
// holds no per-request state and is safe for concurrent use.
type Processor struct {
	backend     Backend
	normalizer  *domain.Normalizer
	logger      zerolog.Logger
	tracer      trace.Tracer
	observer    Observer
	callTimeout time.Duration
}

type Option func(*Processor)

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger.With().Str("component", "pipeline").Logger()
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(p *Processor) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(p *Processor) {
		if observer != nil {
			p.observer = observer
		}
	}
}

// WithCallTimeout bounds every individual backend call. Zero disables the
// bound.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Processor) {
		p.callTimeout = d
	}
}

func NewProcessor(backend Backend, opts ...Option) *Processor {
	p := &Processor{
		backend:     backend,
		normalizer:  domain.NewNormalizer(),
		logger:      zerolog.Nop(),
		tracer:      noop.NewTracerProvider().Tracer("pipeline"),
		observer:    nopObserver{},
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Apply runs one transform. It never returns an error: every outcome,
// including validation problems and backend failures, is in the Result.
func (p *Processor) Apply(ctx context.Context, source domain.ImageAsset, req domain.TransformRequest) domain.Result {
	started := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.apply", trace.WithAttributes(
		attribute.String("pixelkit.op", string(req.Op)),
		attribute.String("pixelkit.asset_id", source.ID),
	))
	defer span.End()

	log := p.logger.With().Str("asset_id", source.ID).Str("op", string(req.Op)).Logger()

	res := p.apply(ctx, source, req, log)

	outcome := "ok"
	if !res.OK() {
		outcome = string(res.Failure.Kind)
		span.SetStatus(codes.Error, res.Failure.Reason)
		span.SetAttributes(attribute.String("pixelkit.failure_kind", outcome))
		log.Warn().
			Str("kind", outcome).
			Str("reason", res.Failure.Reason).
			Dur("elapsed", time.Since(started)).
			Msg("transform failed")
	} else {
		span.SetAttributes(attribute.String("pixelkit.output_uri", res.Asset.URI))
		ev := log.Info().Str("output_id", res.Asset.ID).Dur("elapsed", time.Since(started))
		if size, ok := res.Asset.SizeBytes(); ok {
			ev = ev.Int64("size", size)
		}
		ev.Msg("transform finished")
	}
	p.observer.ObserveTransform(req.Op, outcome, time.Since(started))

	return res
}

func (p *Processor) apply(ctx context.Context, source domain.ImageAsset, req domain.TransformRequest, log zerolog.Logger) domain.Result {
	req, err := p.normalizer.Validate(req, source)
	if err != nil {
		return domain.FailureFrom(err)
	}
	if req.BoundsUnchecked {
		log.Warn().Msg("crop bounds unchecked: source dimensions unknown")
	}

	var out domain.ImageAsset
	switch req.Op {
	case domain.OpFlip:
		return domain.FailureFrom(domain.ErrFlipUnsupported)
	case domain.OpWatermark:
		return domain.FailureFrom(domain.ErrWatermarkUnsupported)
	case domain.OpCompressToSize:
		return p.compressToSize(ctx, source, req.TargetKB, log)
	case domain.OpBlur:
		out, err = p.blur(ctx, source, req.Radius)
	case domain.OpCompress:
		out, err = p.call(ctx, "compress", func(ctx context.Context) (domain.ImageAsset, error) {
			return p.backend.Compress(ctx, source, req.Quality)
		})
	case domain.OpResize:
		out, err = p.call(ctx, "resize", func(ctx context.Context) (domain.ImageAsset, error) {
			return p.backend.Resize(ctx, source, ResizeOptions{
				Width:   req.Width,
				Height:  req.Height,
				Fit:     FitStretch,
				Quality: maxQuality,
				Format:  domain.FormatJPEG,
			})
		})
	case domain.OpCrop:
		out, err = p.call(ctx, "crop", func(ctx context.Context) (domain.ImageAsset, error) {
			return p.backend.Crop(ctx, source, *req.Crop)
		})
	case domain.OpConvert:
		out, err = p.call(ctx, "convert", func(ctx context.Context) (domain.ImageAsset, error) {
			return p.backend.ConvertFormat(ctx, source, req.Format)
		})
	case domain.OpRotate:
		out, err = p.call(ctx, "rotate", func(ctx context.Context) (domain.ImageAsset, error) {
			return p.backend.Rotate(ctx, source, req.Degrees)
		})
	case domain.OpRemoveBackground:
		out, err = p.call(ctx, "remove_background", func(ctx context.Context) (domain.ImageAsset, error) {
			return p.backend.RemoveBackground(ctx, source, req.Sensitivity)
		})
	default:
		return domain.FailureFrom(domain.ValidationError("op", fmt.Sprintf("unsupported operation %q", req.Op)))
	}
	if err != nil {
		return domain.FailureFrom(err)
	}
	return domain.Succeeded(out)
}

// Process applies the steps of opts in order, each to the previous output.
// Intermediate outputs are deleted; the source is never touched. The first
// failing step fails the whole chain.
func (p *Processor) Process(ctx context.Context, source domain.ImageAsset, opts domain.ProcessOptions) domain.Result {
	steps := opts.Steps()
	if len(steps) == 0 {
		return domain.FailureFrom(domain.ValidationError("options", "at least one processing option is required"))
	}

	current := source
	var attempts []domain.Attempt
	for i, step := range steps {
		res := p.Apply(ctx, current, step)
		if i > 0 {
			p.discard(current)
		}
		if !res.OK() {
			return res
		}
		attempts = append(attempts, res.Attempts...)
		current = *res.Asset
	}

	res := domain.Succeeded(current)
	res.Attempts = attempts
	return res
}

type callResult struct {
	asset domain.ImageAsset
	err   error
}

// call runs one backend operation under the per-call timeout. An output that
// arrives after the deadline is deleted instead of returned.
func (p *Processor) call(ctx context.Context, name string, fn func(context.Context) (domain.ImageAsset, error)) (domain.ImageAsset, error) {
	if err := ctx.Err(); err != nil {
		return domain.ImageAsset{}, cancelled(name, err)
	}
	if p.callTimeout <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		asset, err := fn(callCtx)
		done <- callResult{asset: asset, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return domain.ImageAsset{}, p.timeout(name, out.err)
		}
		return out.asset, out.err
	case <-callCtx.Done():
		go p.discardLate(name, done)
		if ctx.Err() != nil {
			return domain.ImageAsset{}, cancelled(name, ctx.Err())
		}
		return domain.ImageAsset{}, p.timeout(name, callCtx.Err())
	}
}

func (p *Processor) timeout(name string, err error) error {
	return &domain.Error{
		Kind:    domain.KindTimeout,
		Message: fmt.Sprintf("%s did not finish within %s", name, p.callTimeout),
		Err:     err,
	}
}

func cancelled(name string, err error) error {
	return &domain.Error{Kind: domain.KindCancelled, Message: name + " was cancelled", Err: err}
}

func (p *Processor) discardLate(name string, done <-chan callResult) {
	out := <-done
	if out.err == nil {
		p.logger.Debug().Str("call", name).Str("uri", out.asset.URI).Msg("discarding late output")
		p.discard(out.asset)
	}
}

// discard deletes an intermediate output, logging instead of failing.
func (p *Processor) discard(asset domain.ImageAsset) {
	if asset.URI == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.backend.Delete(ctx, asset); err != nil {
		p.logger.Warn().Err(err).Str("uri", asset.URI).Msg("delete intermediate output")
	}
}

// Discard deletes an output the caller decided not to keep, such as a
// superseded result.
func (p *Processor) Discard(asset domain.ImageAsset) {
	p.discard(asset)
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/breaker"
	"github.com/yokitheyo/styleshot/internal/domain"
	"github.com/yokitheyo/styleshot/internal/engine"
	"github.com/yokitheyo/styleshot/internal/platformspec"
	"github.com/yokitheyo/styleshot/internal/quality"
)

const (
	GuaranteeProvider = "local-engine"

	defaultBatchLimit = 4
)

type Config struct {
	ShapingWorkers int
	BatchLimit     int
}

// Deps are the collaborators of an Orchestrator. Only Primitives is mandatory.
type Deps struct {
	Tiers      []Tier
	Breakers   *breaker.Registry
	Gate       *quality.Gate
	Engine     *engine.Engine
	Table      *platformspec.Table
	Primitives engine.Primitives
	Sink       domain.MetricsSink
}

// Orchestrator walks the provider tiers for each request and falls back to the local
// engine when none of them produces an acceptable image. It is safe for concurrent use.
type Orchestrator struct {
	tiers    []Tier
	breakers *breaker.Registry
	gate     *quality.Gate
	engine   *engine.Engine
	table    *platformspec.Table
	prims    engine.Primitives
	sink     domain.MetricsSink
	shaper   *shaper
	cfg      Config
	now      func() time.Time
}

func New(d Deps, cfg Config) (*Orchestrator, error) {
	if d.Primitives == nil {
		return nil, errors.New("orchestrator: image primitives are required")
	}
	for _, t := range d.Tiers {
		for _, p := range t.Providers {
			if p.Provider == nil {
				return nil, fmt.Errorf("orchestrator: tier %q has a provider without an adapter", t.Name)
			}
		}
	}

	if d.Sink == nil {
		d.Sink = nopSink{}
	}
	if d.Breakers == nil {
		d.Breakers = breaker.NewRegistry(breaker.Config{}, breaker.WithObserver(BreakerEvents(d.Sink)))
	}
	if d.Gate == nil {
		d.Gate = quality.NewGate(quality.Config{})
	}
	if d.Engine == nil {
		d.Engine = engine.New(d.Primitives, engine.Config{})
	}
	if d.Table == nil {
		d.Table = platformspec.New()
	}
	if cfg.ShapingWorkers <= 0 {
		cfg.ShapingWorkers = runtime.NumCPU()
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultBatchLimit
	}

	sh, err := newShaper(cfg.ShapingWorkers)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		tiers:    sortTiers(d.Tiers),
		breakers: d.Breakers,
		gate:     d.Gate,
		engine:   d.Engine,
		table:    d.Table,
		prims:    d.Primitives,
		sink:     d.Sink,
		shaper:   sh,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

// Close releases the shaping pool. Transform must not be called afterwards.
func (o *Orchestrator) Close() {
	o.shaper.release()
}

func (o *Orchestrator) Breakers() []domain.BreakerState {
	return o.breakers.Snapshot()
}

// Tiers returns the tiers in visiting order.
func (o *Orchestrator) Tiers() []Tier {
	out := make([]Tier, len(o.tiers))
	copy(out, o.tiers)
	return out
}

// candidate is a provider image that passed the quality gate.
type candidate struct {
	tier   Tier
	name   string
	output domain.ProviderOutput
	img    image.Image
	report domain.QualityReport
}

// Transform returns a result for every well-formed request. The only error is a
// *domain.ValidationError; cancellation is reported through the result status.
func (o *Orchestrator) Transform(ctx context.Context, req domain.TransformationRequest) (*domain.TransformationResult, error) {
	start := o.now()

	src, err := o.validate(req)
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("request_id", req.ID()).Msg("transformation request rejected")
		return nil, err
	}

	id := req.ID()
	if id == "" {
		id = uuid.NewString()
	}
	platforms := req.Platforms()
	if n := req.Options().MaxOutputs; n > 0 && n < len(platforms) {
		platforms = platforms[:n]
	}
	for _, p := range platforms {
		if !o.table.Known(p) {
			zlog.Logger.Debug().Str("request_id", id).Str("platform", p).Msg("unknown platform, default spec applied")
		}
	}

	res := &domain.TransformationResult{
		RequestID: id,
		Status:    domain.ResultCompleted,
		Outputs:   make(map[string]domain.PlatformOutput, len(platforms)),
		Attempts:  make([]domain.Attempt, 0, 4),
	}

	zlog.Logger.Info().
		Str("request_id", id).
		Str("style", string(req.Style())).
		Strs("platforms", platforms).
		Bool("premium_requested", req.Options().PremiumRequested).
		Msg("starting transformation")
	emit(o.sink, EventTransformStarted, map[string]any{
		"request_id":        id,
		"style":             string(req.Style()),
		"platforms":         len(platforms),
		"premium_requested": req.Options().PremiumRequested,
	})

	chosen, cancelled := o.escalate(ctx, id, req, res)
	if cancelled {
		return o.cancelled(ctx, res, start), nil
	}

	if chosen != nil {
		o.deliver(chosen, req, platforms, res)
	} else {
		o.guarantee(src, req, platforms, res)
	}
	res.Elapsed = o.now().Sub(start)

	zlog.Logger.Info().
		Str("request_id", id).
		Str("tier", string(res.Tier)).
		Str("provider", res.Provider).
		Bool("guarantee_applied", res.GuaranteeApplied).
		Float64("score", res.Quality.Score).
		Int("outputs", len(res.Outputs)).
		Dur("elapsed", res.Elapsed).
		Msg("transformation completed")
	emit(o.sink, EventTransformCompleted, map[string]any{
		"request_id":        id,
		"tier":              string(res.Tier),
		"provider":          res.Provider,
		"guarantee_applied": res.GuaranteeApplied,
		"score":             res.Quality.Score,
		"enhancement":       res.Enhancement(),
		"attempts":          len(res.Attempts),
		"elapsed_ms":        res.Elapsed.Milliseconds(),
	})

	return res, nil
}

func (o *Orchestrator) validate(req domain.TransformationRequest) (image.Image, error) {
	var (
		problems []string
		src      image.Image
	)

	if req.SourceLen() == 0 {
		problems = append(problems, "source image is empty")
	} else {
		img, err := o.prims.Decode(req.SourceImage())
		if err != nil {
			problems = append(problems, "source image is not a decodable jpeg, png, gif, webp or bmp")
		} else {
			src = img
		}
	}
	if !req.Style().Valid() {
		problems = append(problems, fmt.Sprintf("unrecognised style %q", req.Style()))
	}
	if len(req.Platforms()) == 0 {
		problems = append(problems, "at least one target platform is required")
	}
	for _, p := range domain.InvalidPlatformIDs(req.Platforms()) {
		problems = append(problems, fmt.Sprintf("invalid platform id %q", p))
	}
	if req.Options().MaxOutputs < 0 {
		problems = append(problems, "max outputs must not be negative")
	}

	if len(problems) > 0 {
		return nil, domain.NewValidationError(problems...)
	}
	return src, nil
}

// escalate visits tiers in priority order and stops at the first candidate that passes the gate.
func (o *Orchestrator) escalate(ctx context.Context, id string, req domain.TransformationRequest, res *domain.TransformationResult) (*candidate, bool) {
	for _, tier := range o.tiers {
		if tier.PremiumOnly && !req.Options().PremiumRequested {
			zlog.Logger.Debug().Str("request_id", id).Str("tier", tier.Name).Msg("premium-only tier skipped")
			continue
		}
		for _, entry := range tier.Providers {
			if ctx.Err() != nil {
				return nil, true
			}
			c, cancelled := o.attempt(ctx, id, tier, entry, req, res)
			if cancelled {
				return nil, true
			}
			if c != nil {
				return c, false
			}
		}
	}
	return nil, ctx.Err() != nil
}

func (o *Orchestrator) attempt(ctx context.Context, id string, tier Tier, e ProviderEntry, req domain.TransformationRequest, res *domain.TransformationResult) (*candidate, bool) {
	name := e.Name()
	rec := domain.Attempt{Tier: tier.Kind, Priority: tier.Priority, Provider: name}
	fields := func(extra map[string]any) map[string]any {
		f := map[string]any{"request_id": id, "provider": name, "tier": string(tier.Kind)}
		for k, v := range extra {
			f[k] = v
		}
		return f
	}

	if !o.breakers.Allow(name) {
		rec.Outcome = domain.AttemptSkipped
		rec.Error = domain.ErrProviderUnavailable.Error()
		res.Attempts = append(res.Attempts, rec)
		zlog.Logger.Debug().Str("request_id", id).Str("provider", name).Msg("circuit open, provider skipped")
		emit(o.sink, EventProviderSkipped, fields(map[string]any{"reason": "circuit_open"}))
		return nil, false
	}
	if e.Limiter != nil && !e.Limiter.Allow() {
		o.breakers.Abandon(name)
		rec.Outcome = domain.AttemptRateLimited
		rec.Error = domain.ErrRateLimited.Error()
		res.Attempts = append(res.Attempts, rec)
		zlog.Logger.Debug().Str("request_id", id).Str("provider", name).Msg("local rate limit reached, provider skipped")
		emit(o.sink, EventProviderSkipped, fields(map[string]any{"reason": "rate_limited"}))
		return nil, false
	}

	emit(o.sink, EventProviderAttempt, fields(nil))
	in := domain.ProviderInput{
		Image:       req.SourceImage(),
		Style:       req.Style(),
		StylePrompt: stylePrompt(req.Style(), req.Options().Dramatic),
		Params:      providerParams(req),
	}

	started := o.now()
	out, err := o.call(ctx, tier.Kind, e, in)
	rec.Latency = o.now().Sub(started)

	if ctx.Err() != nil {
		o.breakers.Abandon(name)
		rec.Outcome = domain.AttemptCancelled
		rec.Error = ctx.Err().Error()
		res.Attempts = append(res.Attempts, rec)
		return nil, true
	}

	if err != nil {
		o.breakers.RecordFailure(name)
		rec.Outcome, rec.Error = domain.AttemptFailed, err.Error()
		reason := "error"
		switch {
		case errors.Is(err, domain.ErrProviderTimeout):
			rec.Outcome, reason = domain.AttemptTimeout, "timeout"
		case errors.Is(err, domain.ErrRateLimited):
			rec.Outcome, reason = domain.AttemptRateLimited, "rate_limited"
		}
		res.Attempts = append(res.Attempts, rec)

		zlog.Logger.Warn().
			Err(err).
			Str("request_id", id).
			Str("provider", name).
			Str("tier", string(tier.Kind)).
			Dur("latency", rec.Latency).
			Msg("provider attempt failed")
		emit(o.sink, EventProviderFailure, fields(map[string]any{
			"reason":     reason,
			"latency_ms": rec.Latency.Milliseconds(),
		}))
		return nil, false
	}

	report := o.gate.Validate(quality.Candidate{
		Data:     out.Data,
		Tier:     tier.Kind,
		Provider: name,
		Model:    out.Metadata.Model,
	}, req.Style())
	rec.Score = report.Score

	if !report.Passed {
		o.breakers.RecordSoftFailure(name)
		rec.Outcome = domain.AttemptLowQuality
		rec.Error = fmt.Errorf("%s scored %.1f: %w", name, report.Score, domain.ErrQualityBelowThreshold).Error()
		res.Attempts = append(res.Attempts, rec)

		zlog.Logger.Warn().
			Str("request_id", id).
			Str("provider", name).
			Float64("score", report.Score).
			Float64("threshold", o.gate.Threshold()).
			Msg("provider output below quality threshold")
		emit(o.sink, EventProviderFailure, fields(map[string]any{
			"reason":     "quality",
			"score":      report.Score,
			"latency_ms": rec.Latency.Milliseconds(),
		}))
		return nil, false
	}

	img, err := o.prims.Decode(out.Data)
	if err != nil {
		o.breakers.RecordFailure(name)
		rec.Outcome, rec.Error = domain.AttemptFailed, err.Error()
		res.Attempts = append(res.Attempts, rec)
		zlog.Logger.Warn().Err(err).Str("request_id", id).Str("provider", name).Msg("provider output could not be decoded")
		emit(o.sink, EventProviderFailure, fields(map[string]any{"reason": "error"}))
		return nil, false
	}

	o.breakers.RecordSuccess(name)
	rec.Outcome = domain.AttemptSuccess
	res.Attempts = append(res.Attempts, rec)
	emit(o.sink, EventProviderSuccess, fields(map[string]any{
		"score":      report.Score,
		"model":      out.Metadata.Model,
		"latency_ms": rec.Latency.Milliseconds(),
	}))

	return &candidate{tier: tier, name: name, output: out, img: img, report: report}, false
}

// call runs one provider under the orchestrator's own deadline. A provider that ignores
// its context is abandoned when the deadline passes; its late reply is discarded.
func (o *Orchestrator) call(ctx context.Context, kind domain.TierKind, e ProviderEntry, in domain.ProviderInput) (domain.ProviderOutput, error) {
	name := e.Name()
	timeout := e.timeout(kind)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		out domain.ProviderOutput
		err error
	}
	done := make(chan reply, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("%s panicked: %v: %w", name, r, domain.ErrProviderUnavailable)}
			}
		}()
		out, err := e.Provider.Call(callCtx, in)
		done <- reply{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return domain.ProviderOutput{}, fmt.Errorf("%s after %s: %w", name, timeout, domain.ErrProviderTimeout)
			}
			return domain.ProviderOutput{}, fmt.Errorf("%s: %w", name, r.err)
		}
		if len(r.out.Data) == 0 {
			return domain.ProviderOutput{}, fmt.Errorf("%s: %w", name, domain.ErrEmptyProviderResponse)
		}
		return r.out, nil
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return domain.ProviderOutput{}, err
		}
		return domain.ProviderOutput{}, fmt.Errorf("%s after %s: %w", name, timeout, domain.ErrProviderTimeout)
	}
}

// deliver shapes an accepted provider image for every requested platform.
func (o *Orchestrator) deliver(c *candidate, req domain.TransformationRequest, platforms []string, res *domain.TransformationResult) {
	res.Tier = c.tier.Kind
	res.Provider = c.name
	res.Model = c.output.Metadata.Model
	res.Quality = c.report

	b := c.img.Bounds()
	res.Image = domain.ImageHandle{
		Data:   c.output.Data,
		Format: strings.TrimPrefix(mimetype.Detect(c.output.Data).String(), "image/"),
		Width:  b.Dx(),
		Height: b.Dy(),
	}

	outputs := make([]domain.PlatformOutput, len(platforms))
	o.shaper.each(len(platforms), func(i int) {
		spec := o.table.Resolve(platforms[i], req.Style())
		shaped := o.engine.Shape(c.img, spec)
		outputs[i] = domain.PlatformOutput{Image: shaped.Image, Spec: spec}
	})
	for i, p := range platforms {
		res.Outputs[p] = outputs[i]
	}
}

// guarantee runs the local engine for every platform. It cannot fail.
func (o *Orchestrator) guarantee(src image.Image, req domain.TransformationRequest, platforms []string, res *domain.TransformationResult) {
	started := o.now()
	opts := engine.Options{Dramatic: req.Options().Dramatic}

	outputs := make([]engine.Output, len(platforms))
	specs := make([]domain.PlatformSpec, len(platforms))
	o.shaper.each(len(platforms), func(i int) {
		specs[i] = o.table.Resolve(platforms[i], req.Style())
		outputs[i] = o.engine.GuaranteeTransform(src, req.Style(), specs[i], opts)
	})

	floor := false
	for i, p := range platforms {
		floor = floor || outputs[i].Floor
		res.Outputs[p] = domain.PlatformOutput{Image: outputs[i].Image, Spec: specs[i]}
	}

	report := quality.GuaranteeReport(floor)
	res.Tier = domain.TierGuarantee
	res.Provider = GuaranteeProvider
	res.Quality = report
	res.GuaranteeApplied = true
	res.Image = outputs[0].Image
	res.Attempts = append(res.Attempts, domain.Attempt{
		Tier:     domain.TierGuarantee,
		Priority: len(o.tiers),
		Provider: GuaranteeProvider,
		Outcome:  domain.AttemptSuccess,
		Score:    report.Score,
		Latency:  o.now().Sub(started),
	})

	zlog.Logger.Info().
		Str("request_id", res.RequestID).
		Bool("floor", floor).
		Strs("stages", outputs[0].Stages).
		Msg("guarantee transform applied")
	emit(o.sink, EventGuaranteeApplied, map[string]any{
		"request_id": res.RequestID,
		"floor":      floor,
		"platforms":  len(platforms),
	})
}

func (o *Orchestrator) cancelled(ctx context.Context, res *domain.TransformationResult, start time.Time) *domain.TransformationResult {
	res.Status = domain.ResultCancelled
	res.Elapsed = o.now().Sub(start)

	zlog.Logger.Info().
		Err(ctx.Err()).
		Str("request_id", res.RequestID).
		Int("attempts", len(res.Attempts)).
		Msg("transformation cancelled")
	emit(o.sink, EventTransformCancelled, map[string]any{
		"request_id": res.RequestID,
		"attempts":   len(res.Attempts),
		"elapsed_ms": res.Elapsed.Milliseconds(),
	})
	return res
}

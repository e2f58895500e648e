package engine

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/domain"
)

const (
	DefaultWorkingSize     = 2048
	DefaultRotationDegrees = 0.1
	DefaultMinQuality      = 40
	DefaultQualityStep     = 5

	floorQuality   = 85
	fallbackWidth  = 512
	fallbackHeight = 512
	formatJPEG     = "jpeg"
	formatPNG      = "png"
)

// Primitives is the narrow image port the engine depends on.
type Primitives interface {
	Decode(data []byte) (image.Image, error)
	Resize(img image.Image, w, h int) image.Image
	Crop(img image.Image, rect image.Rectangle) image.Image
	Rotate(img image.Image, degrees float64) image.Image
	Compress(img image.Image, quality int) ([]byte, error)
	Fill(img image.Image, w, h int) image.Image
	Canvas(w, h int) image.Image
}

type Config struct {
	WorkingSize      int
	CosmeticRotation bool
	RotationDegrees  float64
	MinQuality       int
	QualityStep      int
}

type Options struct {
	Dramatic bool
}

// Output is an encoded, platform-shaped image. Floor is set when the minimal path produced it.
type Output struct {
	Image  domain.ImageHandle
	Floor  bool
	Stages []string
}

// Engine is the deterministic, network-free transform pipeline. Every exported method is total.
type Engine struct {
	p   Primitives
	cfg Config
}

func New(p Primitives, cfg Config) *Engine {
	if cfg.WorkingSize <= 0 {
		cfg.WorkingSize = DefaultWorkingSize
	}
	if cfg.RotationDegrees == 0 {
		cfg.RotationDegrees = DefaultRotationDegrees
	}
	if cfg.MinQuality <= 0 {
		cfg.MinQuality = DefaultMinQuality
	}
	if cfg.QualityStep <= 0 {
		cfg.QualityStep = DefaultQualityStep
	}
	return &Engine{p: p, cfg: cfg}
}

// GuaranteeFromBytes decodes data and runs GuaranteeTransform; an undecodable payload gets a neutral canvas.
func (e *Engine) GuaranteeFromBytes(data []byte, style domain.Style, spec domain.PlatformSpec, opts Options) Output {
	img, err := e.p.Decode(data)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("platform", spec.PlatformID).Msg("guarantee input not decodable, emitting canvas")
		return e.canvas(normalize(spec))
	}
	return e.GuaranteeTransform(img, style, spec, opts)
}

// GuaranteeTransform runs the full style pipeline and falls back to the floor path on any failure.
func (e *Engine) GuaranteeTransform(img image.Image, style domain.Style, spec domain.PlatformSpec, opts Options) Output {
	spec = normalize(spec)

	out, err := e.pipeline(img, style, spec, opts)
	if err == nil {
		return out
	}

	zlog.Logger.Warn().
		Err(err).
		Str("style", string(style)).
		Str("platform", spec.PlatformID).
		Msg("guarantee pipeline failed, using floor path")
	return e.floor(img, spec)
}

// Shape fits an already transformed image to a platform spec without style stages.
func (e *Engine) Shape(img image.Image, spec domain.PlatformSpec) Output {
	spec = normalize(spec)

	out, err := e.run(func() (Output, error) {
		stages := []string{"fit_aspect"}
		shaped := e.fitToSpec(img, spec)
		handle, err := e.compress(shaped, spec)
		if err != nil {
			return Output{}, err
		}
		return Output{Image: handle, Stages: append(stages, "compress")}, nil
	})
	if err == nil {
		return out
	}

	zlog.Logger.Warn().Err(err).Str("platform", spec.PlatformID).Msg("shaping failed, using floor path")
	return e.floor(img, spec)
}

func (e *Engine) pipeline(img image.Image, style domain.Style, spec domain.PlatformSpec, opts Options) (Output, error) {
	return e.run(func() (Output, error) {
		stages := make([]string, 0, 6)

		work := e.toWorkingSize(img)
		stages = append(stages, "working_resize")

		work = e.p.Crop(work, styleRect(work.Bounds(), style, opts.Dramatic))
		stages = append(stages, "style_crop")

		if e.cfg.CosmeticRotation {
			// cosmetic only: differentiates output from a plain resize
			work = e.p.Rotate(work, e.cfg.RotationDegrees)
			work = e.p.Rotate(work, -e.cfg.RotationDegrees)
			stages = append(stages, "cosmetic_rotation")
		}

		work = e.fitToSpec(work, spec)
		stages = append(stages, "fit_aspect")

		handle, err := e.compress(work, spec)
		if err != nil {
			return Output{}, err
		}
		stages = append(stages, "compress")

		return Output{Image: handle, Stages: stages}, nil
	})
}

func (e *Engine) run(fn func() (Output, error)) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("image operation panicked: %v", r)
		}
	}()
	return fn()
}

func (e *Engine) toWorkingSize(img image.Image) image.Image {
	b := img.Bounds()
	if b.Dx() >= b.Dy() {
		return e.p.Resize(img, e.cfg.WorkingSize, 0)
	}
	return e.p.Resize(img, 0, e.cfg.WorkingSize)
}

// fitToSpec crops to the target aspect ratio around the strategy's focal point and
// resizes to the exact output size.
func (e *Engine) fitToSpec(img image.Image, spec domain.PlatformSpec) image.Image {
	cropped := e.p.Crop(img, aspectRect(img.Bounds(), spec))
	out := e.p.Resize(cropped, spec.OutputWidth, spec.OutputHeight)
	if out.Bounds().Dx() != spec.OutputWidth || out.Bounds().Dy() != spec.OutputHeight {
		out = e.p.Fill(out, spec.OutputWidth, spec.OutputHeight)
	}
	return out
}

// compress starts at the spec's target quality and steps down until the payload fits.
func (e *Engine) compress(img image.Image, spec domain.PlatformSpec) (domain.ImageHandle, error) {
	quality := int(math.Round(spec.CompressionTarget * 100))
	if quality <= 0 || quality > 100 {
		quality = floorQuality
	}

	data, err := e.p.Compress(img, quality)
	if err != nil {
		return domain.ImageHandle{}, err
	}
	for spec.MaxFileSize > 0 && int64(len(data)) > spec.MaxFileSize && quality > e.cfg.MinQuality {
		quality -= e.cfg.QualityStep
		if quality < e.cfg.MinQuality {
			quality = e.cfg.MinQuality
		}
		if data, err = e.p.Compress(img, quality); err != nil {
			return domain.ImageHandle{}, err
		}
	}
	if spec.MaxFileSize > 0 && int64(len(data)) > spec.MaxFileSize {
		zlog.Logger.Warn().
			Str("platform", spec.PlatformID).
			Int("bytes", len(data)).
			Int64("max_file_size", spec.MaxFileSize).
			Msg("output above max file size at minimum quality")
	}

	b := img.Bounds()
	return domain.ImageHandle{Data: data, Format: formatJPEG, Width: b.Dx(), Height: b.Dy()}, nil
}

func (e *Engine) floor(img image.Image, spec domain.PlatformSpec) Output {
	out, err := e.run(func() (Output, error) {
		filled := e.p.Fill(img, spec.OutputWidth, spec.OutputHeight)
		data, err := e.p.Compress(filled, floorQuality)
		if err != nil {
			return Output{}, err
		}
		return Output{
			Image:  domain.ImageHandle{Data: data, Format: formatJPEG, Width: spec.OutputWidth, Height: spec.OutputHeight},
			Floor:  true,
			Stages: []string{"floor_fill", "compress"},
		}, nil
	})
	if err == nil {
		return out
	}

	zlog.Logger.Error().Err(err).Str("platform", spec.PlatformID).Msg("floor path failed, emitting canvas")
	return e.canvas(spec)
}

// canvas is reachable only when the source cannot be read at all.
func (e *Engine) canvas(spec domain.PlatformSpec) Output {
	var img image.Image
	if _, err := e.run(func() (Output, error) {
		img = e.p.Canvas(spec.OutputWidth, spec.OutputHeight)
		return Output{}, nil
	}); err != nil || img == nil || img.Bounds().Dx() != spec.OutputWidth || img.Bounds().Dy() != spec.OutputHeight {
		img = image.NewGray(image.Rect(0, 0, spec.OutputWidth, spec.OutputHeight))
	}

	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return Output{
		Image:  domain.ImageHandle{Data: buf.Bytes(), Format: formatPNG, Width: spec.OutputWidth, Height: spec.OutputHeight},
		Floor:  true,
		Stages: []string{"canvas"},
	}
}

func normalize(spec domain.PlatformSpec) domain.PlatformSpec {
	if spec.OutputWidth <= 0 || spec.OutputHeight <= 0 {
		spec.OutputWidth = fallbackWidth
		spec.OutputHeight = fallbackHeight
	}
	spec.AspectRatio = float64(spec.OutputWidth) / float64(spec.OutputHeight)
	if spec.CompressionTarget <= 0 || spec.CompressionTarget > 1 {
		spec.CompressionTarget = 0.85
	}
	return spec
}

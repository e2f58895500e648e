package engine

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/domain"
	"github.com/yokitheyo/styleshot/internal/infrastructure/processor"
	"github.com/yokitheyo/styleshot/internal/platformspec"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

func portrait(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{uint8(x * 3), uint8(y * 5), uint8(x ^ y), 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestEngine(rotation bool) *Engine {
	return New(processor.NewImageProcessor(), Config{WorkingSize: 256, CosmeticRotation: rotation})
}

func TestGuaranteeTransformMatchesSpec(t *testing.T) {
	table := platformspec.New()
	eng := newTestEngine(true)
	src := portrait(90, 120)

	for _, platform := range append(table.Platforms(), "myspace") {
		for _, style := range domain.Styles() {
			spec := table.Resolve(platform, style)
			out := eng.GuaranteeTransform(src, style, spec, Options{})

			require.False(t, out.Image.Empty(), "%s/%s", platform, style)
			assert.False(t, out.Floor, "%s/%s", platform, style)
			assert.Equal(t, spec.OutputWidth, out.Image.Width)
			assert.Equal(t, spec.OutputHeight, out.Image.Height)

			decoded, _, err := image.DecodeConfig(bytes.NewReader(out.Image.Data))
			require.NoError(t, err)
			assert.Equal(t, spec.OutputWidth, decoded.Width, "%s/%s", platform, style)
			assert.Equal(t, spec.OutputHeight, decoded.Height, "%s/%s", platform, style)
		}
	}
}

func TestGuaranteeTransformStages(t *testing.T) {
	spec := platformspec.New().Resolve("linkedin", domain.StyleExecutive)

	withRotation := newTestEngine(true).GuaranteeTransform(portrait(60, 80), domain.StyleExecutive, spec, Options{Dramatic: true})
	assert.Equal(t, []string{"working_resize", "style_crop", "cosmetic_rotation", "fit_aspect", "compress"}, withRotation.Stages)

	without := newTestEngine(false).GuaranteeTransform(portrait(60, 80), domain.StyleExecutive, spec, Options{})
	assert.NotContains(t, without.Stages, "cosmetic_rotation")
}

func TestGuaranteeDimensionsAreStable(t *testing.T) {
	eng := newTestEngine(true)
	spec := platformspec.New().Resolve("resume", domain.StyleFormal)
	src := portrait(100, 70)

	first := eng.GuaranteeTransform(src, domain.StyleFormal, spec, Options{})
	second := eng.GuaranteeTransform(src, domain.StyleFormal, spec, Options{})

	assert.Equal(t, first.Image.Width, second.Image.Width)
	assert.Equal(t, first.Image.Height, second.Image.Height)
	assert.Equal(t, first.Image.Format, second.Image.Format)
}

func TestGuaranteeFromBytes(t *testing.T) {
	eng := newTestEngine(false)
	spec := platformspec.New().Resolve("twitter", domain.StyleStartup)

	out := eng.GuaranteeFromBytes(encodePNG(t, portrait(50, 50)), domain.StyleStartup, spec, Options{})
	assert.False(t, out.Floor)
	assert.Equal(t, 400, out.Image.Width)

	garbage := eng.GuaranteeFromBytes([]byte("nope"), domain.StyleStartup, spec, Options{})
	assert.True(t, garbage.Floor)
	assert.Equal(t, []string{"canvas"}, garbage.Stages)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(garbage.Image.Data))
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.Width)
	assert.Equal(t, 400, cfg.Height)
}

func TestMaxFileSizeStepsQualityDown(t *testing.T) {
	eng := newTestEngine(false)
	spec := domain.PlatformSpec{
		PlatformID:        "tiny",
		OutputWidth:       200,
		OutputHeight:      200,
		CropStrategy:      domain.CropCenter,
		CompressionTarget: 1.0,
		MaxFileSize:       1,
	}
	unbounded := spec
	unbounded.MaxFileSize = 0

	small := eng.Shape(portrait(200, 200), spec)
	large := eng.Shape(portrait(200, 200), unbounded)

	assert.Less(t, len(small.Image.Data), len(large.Image.Data))
	assert.Equal(t, 200, small.Image.Width)
}

func TestInvalidSpecFallsBackToDefaultSize(t *testing.T) {
	out := newTestEngine(false).GuaranteeTransform(portrait(40, 40), domain.StyleCasual, domain.PlatformSpec{PlatformID: "broken"}, Options{})
	assert.Equal(t, 512, out.Image.Width)
	assert.Equal(t, 512, out.Image.Height)
}

// flaky wraps the real primitives and breaks selected operations.
type flaky struct {
	*processor.ImageProcessor
	panicRotate   bool
	failCompress  int
	panicFill     bool
	compressCalls int
}

func (f *flaky) Rotate(img image.Image, deg float64) image.Image {
	if f.panicRotate {
		panic("rotation exploded")
	}
	return f.ImageProcessor.Rotate(img, deg)
}

func (f *flaky) Compress(img image.Image, q int) ([]byte, error) {
	f.compressCalls++
	if f.compressCalls <= f.failCompress {
		return nil, errors.New("encoder unavailable")
	}
	return f.ImageProcessor.Compress(img, q)
}

func (f *flaky) Fill(img image.Image, w, h int) image.Image {
	if f.panicFill {
		panic("fill exploded")
	}
	return f.ImageProcessor.Fill(img, w, h)
}

func TestFloorPathOnPanic(t *testing.T) {
	prims := &flaky{ImageProcessor: processor.NewImageProcessor(), panicRotate: true}
	eng := New(prims, Config{WorkingSize: 128, CosmeticRotation: true})
	spec := platformspec.New().Resolve("linkedin", domain.StyleExecutive)

	out := eng.GuaranteeTransform(portrait(80, 80), domain.StyleExecutive, spec, Options{})
	assert.True(t, out.Floor)
	assert.Equal(t, []string{"floor_fill", "compress"}, out.Stages)
	assert.Equal(t, spec.OutputWidth, out.Image.Width)
	assert.Equal(t, "jpeg", out.Image.Format)
}

func TestFloorPathOnCompressError(t *testing.T) {
	prims := &flaky{ImageProcessor: processor.NewImageProcessor(), failCompress: 1}
	eng := New(prims, Config{WorkingSize: 128})
	spec := platformspec.New().Resolve("github", domain.StyleStartup)

	out := eng.Shape(portrait(64, 64), spec)
	assert.True(t, out.Floor)
	assert.Equal(t, 460, out.Image.Width)
}

func TestCanvasWhenEverythingFails(t *testing.T) {
	prims := &flaky{ImageProcessor: processor.NewImageProcessor(), panicRotate: true, panicFill: true}
	eng := New(prims, Config{WorkingSize: 128, CosmeticRotation: true})
	spec := platformspec.New().Resolve("zoom", domain.StyleCorporate)

	out := eng.GuaranteeTransform(portrait(64, 64), domain.StyleCorporate, spec, Options{})
	assert.Equal(t, []string{"canvas"}, out.Stages)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(out.Image.Data))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 1280, cfg.Width)
	assert.Equal(t, 720, cfg.Height)
}

func TestAspectRect(t *testing.T) {
	b := image.Rect(0, 0, 1000, 500)
	square := domain.PlatformSpec{OutputWidth: 100, OutputHeight: 100, CropStrategy: domain.CropCenter}
	assert.Equal(t, image.Rect(250, 0, 750, 500), aspectRect(b, square))

	tall := image.Rect(0, 0, 300, 900)
	face := domain.PlatformSpec{OutputWidth: 100, OutputHeight: 100, CropStrategy: domain.CropFaceAware}
	r := aspectRect(tall, face)
	assert.Equal(t, 300, r.Dx())
	assert.Equal(t, 300, r.Dy())
	assert.Equal(t, 192, r.Min.Y)

	thirds := domain.PlatformSpec{OutputWidth: 100, OutputHeight: 100, CropStrategy: domain.CropRuleOfThirds}
	assert.Equal(t, 150, aspectRect(tall, thirds).Min.Y)
}

func TestStyleRect(t *testing.T) {
	b := image.Rect(0, 0, 100, 100)
	assert.Equal(t, image.Rect(8, 0, 92, 88), styleRect(b, domain.StyleExecutive, false))
	assert.Equal(t, image.Rect(13, 3, 87, 83), styleRect(b, domain.StyleExecutive, true))
	assert.Equal(t, b, styleRect(b, domain.Style("unknown"), false))
}

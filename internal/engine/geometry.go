package engine

import (
	"image"
	"math"

	"github.com/yokitheyo/styleshot/internal/domain"
)

// frame is a crop region expressed as fractions of the source bounds.
type frame struct {
	x0, y0, x1, y1 float64
}

// Precomputed per-style framing. Not content-aware: portraits are assumed to be
// roughly centred with the head in the upper half.
var styleFrames = map[domain.Style]frame{
	domain.StyleCorporate: {0.05, 0.00, 0.95, 0.92},
	domain.StyleExecutive: {0.08, 0.00, 0.92, 0.88},
	domain.StyleFormal:    {0.06, 0.00, 0.94, 0.90},
	domain.StyleStartup:   {0.04, 0.00, 0.96, 0.94},
	domain.StyleCreative:  {0.02, 0.02, 0.98, 0.98},
	domain.StyleCasual:    {0.00, 0.00, 1.00, 1.00},
}

const dramaticInset = 0.05

// focal points as fractions of width and height
var focalPoints = map[domain.CropStrategy][2]float64{
	domain.CropCenter:       {0.5, 0.5},
	domain.CropFaceAware:    {0.5, 0.38},
	domain.CropRuleOfThirds: {0.5, 1.0 / 3.0},
}

func styleRect(b image.Rectangle, style domain.Style, dramatic bool) image.Rectangle {
	f, ok := styleFrames[style]
	if !ok {
		f = frame{0, 0, 1, 1}
	}
	if dramatic {
		f.x0 += dramaticInset
		f.y0 += dramaticInset / 2
		f.x1 -= dramaticInset
		f.y1 -= dramaticInset
	}

	w, h := float64(b.Dx()), float64(b.Dy())
	r := image.Rect(
		b.Min.X+int(math.Round(f.x0*w)),
		b.Min.Y+int(math.Round(f.y0*h)),
		b.Min.X+int(math.Round(f.x1*w)),
		b.Min.Y+int(math.Round(f.y1*h)),
	)
	if r.Dx() < 1 || r.Dy() < 1 {
		return b
	}
	return r
}

// aspectRect is the largest rectangle of the spec's aspect ratio that fits in b,
// positioned so the strategy's focal point is as central as the bounds allow.
func aspectRect(b image.Rectangle, spec domain.PlatformSpec) image.Rectangle {
	w, h := b.Dx(), b.Dy()
	ar := float64(spec.OutputWidth) / float64(spec.OutputHeight)

	cw, ch := w, h
	if float64(w)/float64(h) > ar {
		cw = int(math.Round(float64(h) * ar))
	} else {
		ch = int(math.Round(float64(w) / ar))
	}
	cw = clamp(cw, 1, w)
	ch = clamp(ch, 1, h)

	fp, ok := focalPoints[spec.CropStrategy]
	if !ok {
		fp = focalPoints[domain.CropCenter]
	}
	x0 := clamp(int(math.Round(fp[0]*float64(w)-float64(cw)/2)), 0, w-cw)
	y0 := clamp(int(math.Round(fp[1]*float64(h)-float64(ch)/2)), 0, h-ch)

	return image.Rect(b.Min.X+x0, b.Min.Y+y0, b.Min.X+x0+cw, b.Min.Y+y0+ch)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package platformspec

import (
	"sort"
	"strings"

	"github.com/yokitheyo/styleshot/internal/domain"
)

const (
	mib = 1024 * 1024

	DefaultPlatform = "default"
)

// Default is returned for any platform the table does not know.
var Default = domain.PlatformSpec{
	PlatformID:        DefaultPlatform,
	OutputWidth:       512,
	OutputHeight:      512,
	AspectRatio:       1,
	CropStrategy:      domain.CropCenter,
	CompressionTarget: 0.85,
	MaxFileSize:       1 * mib,
}

type entry struct {
	base      domain.PlatformSpec
	overrides map[domain.Style]domain.PlatformSpec
	affinity  map[domain.Style]float64
}

// Table is read-only after construction and safe for concurrent use.
type Table struct {
	entries map[string]entry
}

func spec(platform string, w, h int, crop domain.CropStrategy, compression float64, maxSize int64) domain.PlatformSpec {
	return domain.PlatformSpec{
		PlatformID:        platform,
		OutputWidth:       w,
		OutputHeight:      h,
		AspectRatio:       float64(w) / float64(h),
		CropStrategy:      crop,
		CompressionTarget: compression,
		MaxFileSize:       maxSize,
	}
}

// New builds the static platform × style table.
func New() *Table {
	t := &Table{entries: make(map[string]entry)}

	t.entries["linkedin"] = entry{
		base: spec("linkedin", 800, 800, domain.CropFaceAware, 0.92, 8*mib),
		overrides: map[domain.Style]domain.PlatformSpec{
			domain.StyleExecutive: spec("linkedin", 1000, 1000, domain.CropFaceAware, 0.95, 8*mib),
			domain.StyleCreative:  spec("linkedin", 800, 800, domain.CropRuleOfThirds, 0.9, 8*mib),
		},
		affinity: map[domain.Style]float64{
			domain.StyleCorporate: 1.0,
			domain.StyleExecutive: 1.0,
			domain.StyleFormal:    0.9,
			domain.StyleStartup:   0.85,
			domain.StyleCreative:  0.7,
			domain.StyleCasual:    0.5,
		},
	}
	t.entries["instagram"] = entry{
		base: spec("instagram", 1080, 1080, domain.CropCenter, 0.88, 8*mib),
		overrides: map[domain.Style]domain.PlatformSpec{
			domain.StyleCreative: spec("instagram", 1080, 1350, domain.CropRuleOfThirds, 0.9, 8*mib),
			domain.StyleCasual:   spec("instagram", 1080, 1350, domain.CropRuleOfThirds, 0.88, 8*mib),
		},
		affinity: map[domain.Style]float64{
			domain.StyleCreative:  1.0,
			domain.StyleCasual:    0.95,
			domain.StyleStartup:   0.75,
			domain.StyleCorporate: 0.5,
			domain.StyleExecutive: 0.45,
			domain.StyleFormal:    0.4,
		},
	}
	t.entries["facebook"] = entry{
		base: spec("facebook", 720, 720, domain.CropCenter, 0.85, 4*mib),
		affinity: map[domain.Style]float64{
			domain.StyleCasual:    0.9,
			domain.StyleCreative:  0.85,
			domain.StyleStartup:   0.7,
			domain.StyleCorporate: 0.6,
			domain.StyleFormal:    0.55,
			domain.StyleExecutive: 0.5,
		},
	}
	t.entries["twitter"] = entry{
		base: spec("twitter", 400, 400, domain.CropFaceAware, 0.85, 2*mib),
		affinity: map[domain.Style]float64{
			domain.StyleStartup:   0.9,
			domain.StyleCreative:  0.85,
			domain.StyleCasual:    0.8,
			domain.StyleCorporate: 0.7,
			domain.StyleExecutive: 0.65,
			domain.StyleFormal:    0.55,
		},
	}
	t.entries["github"] = entry{
		base: spec("github", 460, 460, domain.CropCenter, 0.85, 1*mib),
		affinity: map[domain.Style]float64{
			domain.StyleStartup:   0.9,
			domain.StyleCasual:    0.85,
			domain.StyleCreative:  0.8,
			domain.StyleCorporate: 0.6,
			domain.StyleExecutive: 0.5,
			domain.StyleFormal:    0.45,
		},
	}
	t.entries["resume"] = entry{
		base: spec("resume", 600, 800, domain.CropFaceAware, 0.95, 2*mib),
		overrides: map[domain.Style]domain.PlatformSpec{
			domain.StyleCreative: spec("resume", 600, 800, domain.CropRuleOfThirds, 0.92, 2*mib),
		},
		affinity: map[domain.Style]float64{
			domain.StyleFormal:    1.0,
			domain.StyleCorporate: 0.95,
			domain.StyleExecutive: 0.95,
			domain.StyleStartup:   0.7,
			domain.StyleCreative:  0.6,
			domain.StyleCasual:    0.3,
		},
	}
	t.entries["zoom"] = entry{
		base: spec("zoom", 1280, 720, domain.CropRuleOfThirds, 0.85, 2*mib),
		overrides: map[domain.Style]domain.PlatformSpec{
			domain.StyleExecutive: spec("zoom", 1280, 720, domain.CropFaceAware, 0.9, 2*mib),
		},
		affinity: map[domain.Style]float64{
			domain.StyleCorporate: 0.9,
			domain.StyleExecutive: 0.85,
			domain.StyleStartup:   0.85,
			domain.StyleFormal:    0.8,
			domain.StyleCasual:    0.7,
			domain.StyleCreative:  0.65,
		},
	}

	return t
}

// Resolve never fails: unknown styles get the platform's base spec, unknown platforms get Default.
func (t *Table) Resolve(platform string, style domain.Style) domain.PlatformSpec {
	e, ok := t.entries[strings.ToLower(strings.TrimSpace(platform))]
	if !ok {
		return Default
	}
	if s, ok := e.overrides[style]; ok {
		return s
	}
	return e.base
}

// Known reports whether platform has its own entry.
func (t *Table) Known(platform string) bool {
	_, ok := t.entries[strings.ToLower(strings.TrimSpace(platform))]
	return ok
}

// Platforms lists the known platform IDs in lexical order.
func (t *Table) Platforms() []string {
	out := make([]string, 0, len(t.entries))
	for id := range t.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Compatibility scores how well a style suits a platform, in [0,1]. Unknown pairs score 0.5.
func (t *Table) Compatibility(platform string, style domain.Style) float64 {
	e, ok := t.entries[strings.ToLower(strings.TrimSpace(platform))]
	if !ok {
		return 0.5
	}
	if v, ok := e.affinity[style]; ok {
		return v
	}
	return 0.5
}

type Recommendation struct {
	Platform      string              `json:"platform"`
	Compatibility float64             `json:"compatibility"`
	Spec          domain.PlatformSpec `json:"spec"`
}

// Recommend ranks platforms for a style, best first. limit <= 0 returns all of them.
func (t *Table) Recommend(style domain.Style, limit int) []Recommendation {
	recs := make([]Recommendation, 0, len(t.entries))
	for _, id := range t.Platforms() {
		recs = append(recs, Recommendation{
			Platform:      id,
			Compatibility: t.Compatibility(id, style),
			Spec:          t.Resolve(id, style),
		})
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Compatibility > recs[j].Compatibility
	})
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs
}

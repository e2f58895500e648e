package domain

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

type Style string

const (
	StyleCorporate Style = "corporate"
	StyleCreative  Style = "creative"
	StyleExecutive Style = "executive"
	StyleStartup   Style = "startup"
	StyleCasual    Style = "casual"
	StyleFormal    Style = "formal"
)

var knownStyles = []Style{
	StyleCorporate,
	StyleCreative,
	StyleExecutive,
	StyleStartup,
	StyleCasual,
	StyleFormal,
}

// Styles returns every recognised style in display order.
func Styles() []Style {
	out := make([]Style, len(knownStyles))
	copy(out, knownStyles)
	return out
}

func (s Style) Valid() bool {
	for _, k := range knownStyles {
		if s == k {
			return true
		}
	}
	return false
}

// ParseStyle normalises user input; the second value reports whether the style is recognised.
func ParseStyle(s string) (Style, bool) {
	st := Style(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}

type TierKind string

const (
	TierPremium     TierKind = "premium"
	TierAlternative TierKind = "alternative"
	TierLocal       TierKind = "local"
	TierGuarantee   TierKind = "guarantee"
)

// IsAI reports whether candidates from this tier come from a remote generative provider.
func (k TierKind) IsAI() bool {
	return k == TierPremium || k == TierAlternative
}

type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultCancelled ResultStatus = "cancelled"
)

type TransformOptions struct {
	Dramatic         bool `json:"dramatic"`
	PremiumRequested bool `json:"premium_requested"`
	MaxOutputs       int  `json:"max_outputs"`
}

// TransformationRequest is immutable once built with NewTransformationRequest.
type TransformationRequest struct {
	id        string
	source    []byte
	style     Style
	platforms []string
	options   TransformOptions
}

var platformIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// ValidPlatformID reports whether id can name a platform. Unknown IDs are fine as long as
// they are safe to use as a file name.
func ValidPlatformID(id string) bool {
	return platformIDPattern.MatchString(id)
}

// InvalidPlatformIDs returns the IDs of platforms that fail ValidPlatformID, in order.
func InvalidPlatformIDs(platforms []string) []string {
	var bad []string
	for _, p := range platforms {
		if !ValidPlatformID(p) {
			bad = append(bad, p)
		}
	}
	return bad
}

// NewTransformationRequest copies the source bytes and de-duplicates the platform set.
// Platform IDs are lower-cased; validation happens in the orchestrator.
func NewTransformationRequest(id string, source []byte, style Style, platforms []string, opts TransformOptions) TransformationRequest {
	src := make([]byte, len(source))
	copy(src, source)

	seen := make(map[string]struct{}, len(platforms))
	set := make([]string, 0, len(platforms))
	for _, p := range platforms {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		set = append(set, p)
	}
	sort.Strings(set)

	return TransformationRequest{
		id:        id,
		source:    src,
		style:     style,
		platforms: set,
		options:   opts,
	}
}

func (r TransformationRequest) ID() string                { return r.id }
func (r TransformationRequest) Style() Style              { return r.style }
func (r TransformationRequest) Options() TransformOptions { return r.options }

// SourceImage returns a copy of the source bytes.
func (r TransformationRequest) SourceImage() []byte {
	out := make([]byte, len(r.source))
	copy(out, r.source)
	return out
}

// SourceLen avoids copying when only the size matters.
func (r TransformationRequest) SourceLen() int { return len(r.source) }

// Platforms returns the sorted, de-duplicated platform set.
func (r TransformationRequest) Platforms() []string {
	out := make([]string, len(r.platforms))
	copy(out, r.platforms)
	return out
}

type CropStrategy string

const (
	CropCenter       CropStrategy = "center"
	CropFaceAware    CropStrategy = "face-aware"
	CropRuleOfThirds CropStrategy = "rule-of-thirds"
)

type PlatformSpec struct {
	PlatformID        string       `json:"platform_id"`
	OutputWidth       int          `json:"output_width"`
	OutputHeight      int          `json:"output_height"`
	AspectRatio       float64      `json:"aspect_ratio"`
	CropStrategy      CropStrategy `json:"crop_strategy"`
	CompressionTarget float64      `json:"compression_target"`
	MaxFileSize       int64        `json:"max_file_size"`
}

// ImageHandle is an encoded image held in memory.
type ImageHandle struct {
	Data   []byte `json:"-"`
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func (h ImageHandle) Empty() bool {
	return len(h.Data) == 0
}

type QualityReport struct {
	Score   float64  `json:"score"`
	Passed  bool     `json:"passed"`
	Exempt  bool     `json:"exempt"`
	Reasons []string `json:"reasons"`
}

type PlatformOutput struct {
	Image ImageHandle  `json:"image"`
	Spec  PlatformSpec `json:"spec"`
}

type AttemptOutcome string

const (
	AttemptSuccess     AttemptOutcome = "success"
	AttemptFailed      AttemptOutcome = "failed"
	AttemptTimeout     AttemptOutcome = "timeout"
	AttemptLowQuality  AttemptOutcome = "low_quality"
	AttemptSkipped     AttemptOutcome = "skipped"
	AttemptRateLimited AttemptOutcome = "rate_limited"
	AttemptCancelled   AttemptOutcome = "cancelled"
)

// Attempt records what happened to one provider during a request.
type Attempt struct {
	Tier     TierKind       `json:"tier"`
	Priority int            `json:"priority"`
	Provider string         `json:"provider"`
	Outcome  AttemptOutcome `json:"outcome"`
	Error    string         `json:"error,omitempty"`
	Score    float64        `json:"score,omitempty"`
	Latency  time.Duration  `json:"latency"`
}

type TransformationResult struct {
	RequestID        string                    `json:"request_id"`
	Status           ResultStatus              `json:"status"`
	Tier             TierKind                  `json:"tier"`
	Provider         string                    `json:"provider"`
	Model            string                    `json:"model,omitempty"`
	Image            ImageHandle               `json:"image"`
	Quality          QualityReport             `json:"quality"`
	Outputs          map[string]PlatformOutput `json:"outputs"`
	Attempts         []Attempt                 `json:"attempts"`
	Elapsed          time.Duration             `json:"elapsed"`
	GuaranteeApplied bool                      `json:"guarantee_applied"`
}

func (r *TransformationResult) Cancelled() bool {
	return r.Status == ResultCancelled
}

// AIEnhanced reports whether the image came from a generative provider that passed the quality gate.
func (r *TransformationResult) AIEnhanced() bool {
	return !r.GuaranteeApplied && r.Tier.IsAI() && r.Quality.Passed
}

// Enhancement is the caller-facing label that keeps "AI enhanced" distinct from "formatted".
func (r *TransformationResult) Enhancement() string {
	switch {
	case r.Cancelled():
		return "none"
	case r.AIEnhanced():
		return "ai_enhanced"
	case r.Tier == TierLocal:
		return "locally_enhanced"
	default:
		return "professionally_formatted"
	}
}

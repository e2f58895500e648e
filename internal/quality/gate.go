package quality

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/yokitheyo/styleshot/internal/domain"
)

const (
	DefaultThreshold       = 8.0
	DefaultMinPayloadBytes = 10 * 1024

	baseScore        = 5.0
	premiumBonus     = 3.0
	alternativeBonus = 2.5
	localBonus       = 1.0
	payloadBonus     = 1.5
	modelBonus       = 0.5
	maxScore         = 10.0

	// GuaranteeScore is what the local engine reports; it is a fixed formatting grade.
	GuaranteeScore = 7.5
)

type Config struct {
	Threshold       float64
	MinPayloadBytes int
}

// Candidate is one provider response awaiting judgement.
type Candidate struct {
	Data     []byte
	Tier     domain.TierKind
	Provider string
	Model    string
}

// Gate scores candidates with a weighted heuristic. The weights are policy, not measurement.
type Gate struct {
	cfg Config
}

func NewGate(cfg Config) *Gate {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.MinPayloadBytes <= 0 {
		cfg.MinPayloadBytes = DefaultMinPayloadBytes
	}
	return &Gate{cfg: cfg}
}

func (g *Gate) Threshold() float64 {
	return g.cfg.Threshold
}

func (g *Gate) Validate(c Candidate, style domain.Style) domain.QualityReport {
	report := domain.QualityReport{Reasons: make([]string, 0, 4)}

	if len(c.Data) == 0 {
		report.Reasons = append(report.Reasons, "empty payload")
		return report
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(c.Data)); err != nil {
		report.Reasons = append(report.Reasons, fmt.Sprintf("payload is not a decodable image: %v", err))
		return report
	}

	score := baseScore
	switch c.Tier {
	case domain.TierPremium:
		score += premiumBonus
		report.Reasons = append(report.Reasons, "premium provider tier")
	case domain.TierAlternative:
		score += alternativeBonus
		report.Reasons = append(report.Reasons, "alternative provider tier")
	case domain.TierLocal:
		score += localBonus
		report.Reasons = append(report.Reasons, "local provider tier")
	}

	if len(c.Data) >= g.cfg.MinPayloadBytes {
		score += payloadBonus
	} else {
		report.Reasons = append(report.Reasons, fmt.Sprintf("payload %d bytes below %d", len(c.Data), g.cfg.MinPayloadBytes))
	}

	if c.Model != "" {
		score += modelBonus
	} else {
		report.Reasons = append(report.Reasons, "no model declared")
	}

	report.Score = math.Min(score, maxScore)

	if c.Tier == domain.TierLocal || c.Tier == domain.TierGuarantee {
		report.Exempt = true
		report.Passed = true
		report.Reasons = append(report.Reasons, "local tier exempt from professional threshold")
		return report
	}

	report.Passed = report.Score >= g.cfg.Threshold
	if !report.Passed {
		report.Reasons = append(report.Reasons, fmt.Sprintf("score %.1f below threshold %.1f for %s", report.Score, g.cfg.Threshold, style))
	}
	return report
}

// GuaranteeReport describes output of the deterministic local engine.
func GuaranteeReport(floor bool) domain.QualityReport {
	reasons := []string{"guaranteed formatting, not AI enhancement"}
	if floor {
		reasons = append(reasons, "minimal resize and crop path used")
	}
	return domain.QualityReport{
		Score:   GuaranteeScore,
		Passed:  false,
		Exempt:  true,
		Reasons: reasons,
	}
}

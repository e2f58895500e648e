package orchestrator

import "github.com/yokitheyo/styleshot/internal/domain"

var stylePrompts = map[domain.Style]string{
	domain.StyleCorporate: "professional corporate headshot, business attire, neutral office background, soft even lighting",
	domain.StyleCreative:  "creative professional portrait, modern styling, artistic background, natural colour grading",
	domain.StyleExecutive: "executive portrait, tailored suit, confident expression, dark studio backdrop, dramatic key light",
	domain.StyleStartup:   "startup founder portrait, smart casual clothing, bright modern workspace, approachable expression",
	domain.StyleCasual:    "friendly casual professional photo, relaxed clothing, outdoor natural light",
	domain.StyleFormal:    "formal studio portrait, dark suit, plain light grey background, classic three-point lighting",
}

const dramaticSuffix = ", high contrast, pronounced lighting, cinematic finish"

func stylePrompt(style domain.Style, dramatic bool) string {
	p, ok := stylePrompts[style]
	if !ok {
		p = "professional headshot, clean background"
	}
	if dramatic {
		p += dramaticSuffix
	}
	return p
}

// providerParams are the style parameters every adapter receives alongside the prompt.
func providerParams(req domain.TransformationRequest) map[string]any {
	strength := 0.55
	if req.Options().Dramatic {
		strength = 0.8
	}
	return map[string]any{
		"style":     string(req.Style()),
		"strength":  strength,
		"dramatic":  req.Options().Dramatic,
		"platforms": req.Platforms(),
	}
}

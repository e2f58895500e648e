package providers

import (
	"bytes"
	"context"
	"fmt"

	"github.com/disintegration/imaging"

	"github.com/yokitheyo/styleshot/internal/domain"
	"github.com/yokitheyo/styleshot/internal/infrastructure/processor"
)

const SimulationModel = "local-simulation"

// adjustments are tuned by eye; they approximate each look without a model.
type adjustment struct {
	contrast   float64
	saturation float64
	brightness float64
	sharpen    float64
	gamma      float64
}

var styleAdjustments = map[domain.Style]adjustment{
	domain.StyleCorporate: {contrast: 8, saturation: -10, brightness: 3, sharpen: 0.6, gamma: 1.0},
	domain.StyleExecutive: {contrast: 15, saturation: -20, brightness: -2, sharpen: 0.8, gamma: 0.95},
	domain.StyleFormal:    {contrast: 10, saturation: -35, brightness: 0, sharpen: 0.5, gamma: 1.0},
	domain.StyleStartup:   {contrast: 6, saturation: 12, brightness: 5, sharpen: 0.5, gamma: 1.05},
	domain.StyleCreative:  {contrast: 12, saturation: 25, brightness: 2, sharpen: 0.7, gamma: 1.1},
	domain.StyleCasual:    {contrast: 4, saturation: 8, brightness: 6, sharpen: 0.3, gamma: 1.05},
}

// SimulationProvider is the local tier: a colour and sharpness grade per style, no network.
type SimulationProvider struct {
	name    string
	quality int
}

func NewSimulationProvider(name string) *SimulationProvider {
	if name == "" {
		name = "simulation"
	}
	return &SimulationProvider{name: name, quality: 92}
}

func (p *SimulationProvider) Name() string {
	return p.name
}

func (p *SimulationProvider) Call(ctx context.Context, in domain.ProviderInput) (domain.ProviderOutput, error) {
	img, err := imaging.Decode(bytes.NewReader(in.Image), imaging.AutoOrientation(true))
	if err != nil {
		return domain.ProviderOutput{}, fmt.Errorf("decode source: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.ProviderOutput{}, err
	}

	adj, ok := styleAdjustments[in.Style]
	if !ok {
		adj = styleAdjustments[domain.StyleCorporate]
	}
	if dramatic, _ := in.Params["dramatic"].(bool); dramatic {
		adj.contrast *= 1.6
		adj.sharpen *= 1.5
	}

	out := imaging.AdjustContrast(img, adj.contrast)
	out = imaging.AdjustSaturation(out, adj.saturation)
	out = imaging.AdjustBrightness(out, adj.brightness)
	if adj.gamma != 1.0 {
		out = imaging.AdjustGamma(out, adj.gamma)
	}
	if err := ctx.Err(); err != nil {
		return domain.ProviderOutput{}, err
	}
	out = imaging.Sharpen(out, adj.sharpen)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(p.quality)); err != nil {
		return domain.ProviderOutput{}, fmt.Errorf("encode image: %w", err)
	}

	w, h := processor.GetImageDimensions(out)
	return domain.ProviderOutput{
		Data: buf.Bytes(),
		Metadata: domain.ProviderMetadata{
			Model: SimulationModel,
			Extra: map[string]any{"style": string(in.Style), "width": w, "height": h},
		},
	}, nil
}

package bootstrap

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/config"
	"github.com/yokitheyo/styleshot/internal/domain"
	"github.com/yokitheyo/styleshot/internal/platformspec"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

type countingSink struct {
	mu     sync.Mutex
	events map[string]int
}

func (s *countingSink) Emit(event string, _ map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event]++
}

func TestSetLogLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	SetLogLevel("DEBUG")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	SetLogLevel("chatty")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestNewOrchestratorDefaults(t *testing.T) {
	sink := &countingSink{events: map[string]int{}}
	cfg := config.DefaultOrchestrator()
	cfg.Engine.WorkingSize = 128

	orch, err := NewOrchestrator(cfg, platformspec.New(), sink)
	require.NoError(t, err)
	defer orch.Close()

	tiers := orch.Tiers()
	require.Len(t, tiers, 1)
	assert.Equal(t, domain.TierLocal, tiers[0].Kind)

	states := orch.Breakers()
	require.Len(t, states, 1)
	assert.Equal(t, "simulation", states[0].Provider)
	assert.Equal(t, "closed", states[0].State)

	img := image.NewRGBA(image.Rect(0, 0, 120, 160))
	for y := 0; y < 160; y++ {
		for x := 0; x < 120; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 2), uint8(y), 90, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))

	req := domain.NewTransformationRequest("r", buf.Bytes(), domain.StyleCreative, []string{"instagram"}, domain.TransformOptions{})
	res, err := orch.Transform(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, domain.ResultCompleted, res.Status)
	assert.Equal(t, 1080, res.Outputs["instagram"].Image.Width)
	assert.Equal(t, 1350, res.Outputs["instagram"].Image.Height)
	assert.Equal(t, 1, sink.events["transform.started"])
	assert.Equal(t, 1, sink.events["transform.completed"])
}

func TestNewOrchestratorRejectsBadProvider(t *testing.T) {
	cfg := config.OrchestratorConfig{Tiers: []config.TierConfig{{
		Name: "premium", Priority: 1, Kind: "premium",
		Providers: []config.ProviderConfig{{Name: "x", Type: "carrier-pigeon"}},
	}}}
	_, err := NewOrchestrator(cfg, nil, &countingSink{events: map[string]int{}})
	assert.ErrorIs(t, err, domain.ErrUnsupportedProvider)
}

package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/config"
	"github.com/yokitheyo/styleshot/internal/domain"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

func samplePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 48, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 48; x++ {
			img.Set(x, y, color.NRGBA{uint8(x * 5), uint8(y * 4), 120, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func input(t *testing.T) domain.ProviderInput {
	return domain.ProviderInput{
		Image:       samplePNG(t),
		Style:       domain.StyleExecutive,
		StylePrompt: "executive portrait",
		Params:      map[string]any{"dramatic": true},
	}
}

func TestHTTPProviderSuccess(t *testing.T) {
	result := samplePNG(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/generate", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body generateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "executive portrait", body.Prompt)
		assert.Equal(t, "executive", body.Style)
		assert.NotEmpty(t, body.ImageBase64)
		assert.Equal(t, true, body.Params["dramatic"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(generateResponse{
			ImageBase64: base64.StdEncoding.EncodeToString(result),
			Model:       "sdxl-portrait",
			RequestID:   "abc",
		})
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(config.ProviderConfig{Name: "alt", BaseURL: srv.URL, APIKey: "secret"})
	require.NoError(t, err)

	out, err := p.Call(context.Background(), input(t))
	require.NoError(t, err)
	assert.Equal(t, result, out.Data)
	assert.Equal(t, "sdxl-portrait", out.Metadata.Model)
	assert.Equal(t, "abc", out.Metadata.RequestID)
	assert.Equal(t, "alt", p.Name())
}

func TestHTTPProviderErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		target error
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down"}`, domain.ErrRateLimited},
		{"server error", http.StatusBadGateway, `{"error":"upstream"}`, domain.ErrProviderUnavailable},
		{"empty image", http.StatusOK, `{"image_base64":""}`, domain.ErrEmptyProviderResponse},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			p, err := NewHTTPProvider(config.ProviderConfig{Name: "alt", BaseURL: srv.URL, Retries: 1})
			require.NoError(t, err)

			_, err = p.Call(context.Background(), input(t))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.target)
			if tc.status >= 429 {
				assert.EqualValues(t, 2, hits.Load())
			}
		})
	}
}

func TestHTTPProviderClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"prompt rejected"}`))
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(config.ProviderConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, config.ProviderHTTP, p.Name())

	_, err = p.Call(context.Background(), input(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt rejected")
}

func TestHTTPProviderHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(config.ProviderConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = p.Call(ctx, input(t))
	require.Error(t, err)
}

func TestOpenAIProvider(t *testing.T) {
	result := samplePNG(t)
	prompts := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/images/edits"), r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(32<<20))
		prompts <- r.FormValue("prompt")
		_, _, err := r.FormFile("image")
		assert.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"created": 1700000000,
			"data":    []map[string]any{{"b64_json": base64.StdEncoding.EncodeToString(result)}},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(config.ProviderConfig{Name: "openai", APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	out, err := p.Call(context.Background(), input(t))
	require.NoError(t, err)
	assert.Equal(t, result, out.Data)
	assert.Equal(t, defaultOpenAIModel, out.Metadata.Model)
	assert.Equal(t, "executive portrait", <-prompts)
}

func TestOpenAIProviderRateLimited(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit","type":"requests","code":"rate_limit_exceeded"}}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(config.ProviderConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Retries: 1})
	require.NoError(t, err)

	_, err = p.Call(context.Background(), input(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.EqualValues(t, 2, hits.Load())
}

func TestOpenAIProviderRequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider(config.ProviderConfig{})
	require.Error(t, err)
}

func TestSimulationProvider(t *testing.T) {
	p := NewSimulationProvider("")
	assert.Equal(t, "simulation", p.Name())

	for _, style := range domain.Styles() {
		in := input(t)
		in.Style = style
		out, err := p.Call(context.Background(), in)
		require.NoError(t, err, style)
		assert.Equal(t, SimulationModel, out.Metadata.Model)

		cfg, format, err := image.DecodeConfig(bytes.NewReader(out.Data))
		require.NoError(t, err)
		assert.Equal(t, "jpeg", format)
		assert.Equal(t, 48, cfg.Width)
		assert.Equal(t, 64, cfg.Height)
		assert.Equal(t, 48, out.Metadata.Extra["width"])
		assert.Equal(t, 64, out.Metadata.Extra["height"])
	}

	_, err := p.Call(context.Background(), domain.ProviderInput{Image: []byte("junk")})
	require.Error(t, err)
}

func TestSimulationProviderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSimulationProvider("sim").Call(ctx, input(t))
	require.ErrorIs(t, err, context.Canceled)
}

func TestBuildTiers(t *testing.T) {
	cfg := config.OrchestratorConfig{
		Tiers: []config.TierConfig{
			{
				Name: "alternative", Priority: 2, Kind: "alternative",
				Providers: []config.ProviderConfig{{Name: "alt", Type: "http", BaseURL: "http://localhost:9", TimeoutSec: 25, Retries: 2, RatePerSec: 5}},
			},
			{
				Name: "local", Priority: 3, Kind: "local",
				Providers: []config.ProviderConfig{{Name: "sim", Type: "simulation", TimeoutSec: 10}},
			},
		},
	}

	tiers, err := BuildTiers(cfg)
	require.NoError(t, err)
	require.Len(t, tiers, 2)

	alt := tiers[0].Providers[0]
	assert.Equal(t, domain.TierAlternative, tiers[0].Kind)
	assert.Equal(t, "alt", alt.Name())
	assert.Equal(t, 25*time.Second, alt.Descriptor.Timeout)
	assert.Equal(t, 2, alt.Descriptor.Retries)
	require.NotNil(t, alt.Limiter)
	assert.Equal(t, 1, alt.Limiter.Burst())

	sim := tiers[1].Providers[0]
	assert.Nil(t, sim.Limiter)
	assert.IsType(t, &SimulationProvider{}, sim.Provider)
}

func TestBuildTiersUnsupported(t *testing.T) {
	_, err := BuildTiers(config.OrchestratorConfig{Tiers: []config.TierConfig{{
		Name: "x", Kind: "premium", Providers: []config.ProviderConfig{{Name: "x", Type: "carrier-pigeon"}},
	}}})
	require.ErrorIs(t, err, domain.ErrUnsupportedProvider)
}

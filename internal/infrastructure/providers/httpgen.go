package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/yokitheyo/styleshot/internal/config"
	"github.com/yokitheyo/styleshot/internal/domain"
)

const defaultGeneratePath = "/v1/generate"

type generateRequest struct {
	ImageBase64 string         `json:"image_base64"`
	Prompt      string         `json:"prompt"`
	Style       string         `json:"style"`
	Model       string         `json:"model,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

type generateResponse struct {
	ImageBase64 string `json:"image_base64"`
	Model       string `json:"model"`
	RequestID   string `json:"request_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HTTPProvider talks to any image generation service that speaks the JSON
// {image_base64, prompt, params} -> {image_base64, model} contract.
type HTTPProvider struct {
	name     string
	client   *resty.Client
	endpoint string
	model    string
}

func NewHTTPProvider(cfg config.ProviderConfig) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required for http provider %q", cfg.Name)
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultGeneratePath
	}
	name := cfg.Name
	if name == "" {
		name = config.ProviderHTTP
	}

	return &HTTPProvider{name: name, client: client, endpoint: endpoint, model: cfg.Model}, nil
}

func (p *HTTPProvider) Name() string {
	return p.name
}

func (p *HTTPProvider) Call(ctx context.Context, in domain.ProviderInput) (domain.ProviderOutput, error) {
	var (
		out     generateResponse
		failure errorResponse
	)

	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(generateRequest{
			ImageBase64: base64.StdEncoding.EncodeToString(in.Image),
			Prompt:      in.StylePrompt,
			Style:       string(in.Style),
			Model:       p.model,
			Params:      in.Params,
		}).
		SetResult(&out).
		SetError(&failure).
		Post(p.endpoint)
	if err != nil {
		return domain.ProviderOutput{}, fmt.Errorf("call %s: %w", p.name, err)
	}

	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return domain.ProviderOutput{}, fmt.Errorf("%s: %w", p.name, domain.ErrRateLimited)
	case resp.StatusCode() >= http.StatusInternalServerError:
		return domain.ProviderOutput{}, fmt.Errorf("%s returned %d: %w", p.name, resp.StatusCode(), domain.ErrProviderUnavailable)
	case resp.IsError():
		return domain.ProviderOutput{}, fmt.Errorf("%s returned %d: %s", p.name, resp.StatusCode(), failure.Error)
	}

	if out.ImageBase64 == "" {
		return domain.ProviderOutput{}, domain.ErrEmptyProviderResponse
	}
	data, err := base64.StdEncoding.DecodeString(out.ImageBase64)
	if err != nil {
		return domain.ProviderOutput{}, fmt.Errorf("decode image payload: %w", err)
	}

	return domain.ProviderOutput{
		Data: data,
		Metadata: domain.ProviderMetadata{
			Model:     out.Model,
			RequestID: out.RequestID,
		},
	}, nil
}

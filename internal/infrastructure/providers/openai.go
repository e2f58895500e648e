package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sashabaranov/go-openai"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/config"
	"github.com/yokitheyo/styleshot/internal/domain"
)

const (
	defaultOpenAIModel = "gpt-image-1"
	defaultOpenAISize  = openai.CreateImageSize1024x1024
	openAIEdge         = 1024
	retryDelay         = 300 * time.Millisecond
)

// OpenAIProvider edits the source portrait through the OpenAI images API.
type OpenAIProvider struct {
	name    string
	client  *openai.Client
	model   string
	size    string
	retries int
}

func NewOpenAIProvider(cfg config.ProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing OpenAI API key")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	p := &OpenAIProvider{
		name:    cfg.Name,
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		size:    cfg.Size,
		retries: cfg.Retries,
	}
	if p.name == "" {
		p.name = config.ProviderOpenAI
	}
	if p.model == "" {
		p.model = defaultOpenAIModel
	}
	if p.size == "" {
		p.size = defaultOpenAISize
	}
	return p, nil
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) Call(ctx context.Context, in domain.ProviderInput) (domain.ProviderOutput, error) {
	// the edit endpoint wants a square PNG upload
	file, err := squarePNG(in.Image)
	if err != nil {
		return domain.ProviderOutput{}, err
	}
	defer func() {
		_ = file.Close()
		_ = os.Remove(file.Name())
	}()

	req := openai.ImageEditRequest{
		Image:  file,
		Prompt: in.StylePrompt,
		Model:  p.model,
		N:      1,
		Size:   p.size,
	}
	if strings.HasPrefix(p.model, "dall-e") {
		req.ResponseFormat = openai.CreateImageResponseFormatB64JSON
	}

	var resp openai.ImageResponse
	for attempt := 0; ; attempt++ {
		if _, err := file.Seek(0, 0); err != nil {
			return domain.ProviderOutput{}, fmt.Errorf("rewind upload: %w", err)
		}
		resp, err = p.client.CreateEditImage(ctx, req)
		if err == nil || attempt >= p.retries || !retryable(err) {
			break
		}
		zlog.Logger.Debug().Err(err).Str("provider", p.name).Int("attempt", attempt+1).Msg("retrying image edit")
		select {
		case <-ctx.Done():
			return domain.ProviderOutput{}, ctx.Err()
		case <-time.After(retryDelay * time.Duration(attempt+1)):
		}
	}
	if err != nil {
		return domain.ProviderOutput{}, classifyOpenAIError(err)
	}

	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return domain.ProviderOutput{}, domain.ErrEmptyProviderResponse
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return domain.ProviderOutput{}, fmt.Errorf("decode image payload: %w", err)
	}

	return domain.ProviderOutput{
		Data: data,
		Metadata: domain.ProviderMetadata{
			Model: p.model,
			Extra: map[string]any{
				"created":        resp.Created,
				"revised_prompt": resp.Data[0].RevisedPrompt,
			},
		},
	}, nil
}

func squarePNG(data []byte) (*os.File, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode source: %w", err)
	}
	square := imaging.Fill(img, openAIEdge, openAIEdge, imaging.Center, imaging.Lanczos)

	f, err := os.CreateTemp("", "styleshot-edit-*.png")
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	if err := imaging.Encode(f, square, imaging.PNG); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("encode upload: %w", err)
	}
	return f, nil
}

func statusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func retryable(err error) bool {
	code := statusOf(err)
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func classifyOpenAIError(err error) error {
	switch code := statusOf(err); {
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("openai: %w: %v", domain.ErrRateLimited, err)
	case code >= http.StatusInternalServerError:
		return fmt.Errorf("openai: %w: %v", domain.ErrProviderUnavailable, err)
	default:
		return fmt.Errorf("openai image edit: %w", err)
	}
}

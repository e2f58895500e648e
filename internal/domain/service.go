package domain

import (
	"context"
	"io"
	"time"
)

// ProviderInput is what every generative adapter receives.
type ProviderInput struct {
	Image       []byte
	Style       Style
	StylePrompt string
	Params      map[string]any
}

type ProviderMetadata struct {
	Model     string
	RequestID string
	Extra     map[string]any
}

type ProviderOutput struct {
	Data     []byte
	Metadata ProviderMetadata
}

// Provider is the polymorphic contract behind every tier. Timeouts are enforced by the caller.
type Provider interface {
	Name() string
	Call(ctx context.Context, in ProviderInput) (ProviderOutput, error)
}

// MetricsSink receives structured events; implementations must not block.
type MetricsSink interface {
	Emit(event string, fields map[string]any)
}

type TransformService interface {
	Transform(ctx context.Context, req TransformationRequest) (*TransformationResult, error)
}

// TransformInput is an uploaded source with the caller's choices, before a request ID is assigned.
type TransformInput struct {
	Source    []byte
	Style     Style
	Platforms []string
	Options   TransformOptions
}

// PortraitService is what the HTTP API drives.
type PortraitService interface {
	Transform(ctx context.Context, in TransformInput) (*TransformationResult, map[string]string, error)
	Submit(ctx context.Context, in TransformInput) (*TransformJob, error)
	GetJob(ctx context.Context, id string) (*TransformJob, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*TransformJob, error)
	OpenOutput(ctx context.Context, path string) ([]byte, string, error)
}

// JobProcessor runs one queued job to completion.
type JobProcessor interface {
	ProcessJob(ctx context.Context, jobID string) error
}

type StorageService interface {
	SaveSource(ctx context.Context, filename string, reader io.Reader) (string, error)
	SaveOutput(ctx context.Context, filename string, reader io.Reader) (string, error)
	GetSource(ctx context.Context, path string) (io.ReadCloser, error)
	GetOutput(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

type QueueService interface {
	PublishTransformTask(ctx context.Context, jobID string) error
	Close() error
}

// BreakerState is the read-only view of one provider's circuit breaker.
type BreakerState struct {
	Provider            string    `json:"provider"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	FailureThreshold    int       `json:"failure_threshold"`
	CoolDown            string    `json:"cool_down"`
}

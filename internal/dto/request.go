package dto

import (
	"github.com/yokitheyo/styleshot/internal/domain"
	"github.com/yokitheyo/styleshot/internal/helpers"
)

// TransformForm is the multipart form of POST /transform; the image itself travels as a file part.
type TransformForm struct {
	Style      string `form:"style" binding:"required"`
	Platforms  string `form:"platforms" binding:"required"`
	Dramatic   bool   `form:"dramatic"`
	Premium    bool   `form:"premium"`
	MaxOutputs int    `form:"max_outputs"`
	Async      bool   `form:"async"`
}

// PlatformList splits the comma separated platforms field.
func (f *TransformForm) PlatformList() []string {
	return helpers.SplitAndTrim(f.Platforms, ",")
}

func (f *TransformForm) Options() domain.TransformOptions {
	return domain.TransformOptions{
		Dramatic:         f.Dramatic,
		PremiumRequested: f.Premium,
		MaxOutputs:       f.MaxOutputs,
	}
}

// TransformTask is the Kafka message that hands a stored job to the worker.
type TransformTask struct {
	JobID string `json:"job_id"`
}

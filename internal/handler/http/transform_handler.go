package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/domain"
	"github.com/yokitheyo/styleshot/internal/dto"
	"github.com/yokitheyo/styleshot/internal/platformspec"
)

// BreakerSource exposes the live breaker table.
type BreakerSource interface {
	Breakers() []domain.BreakerState
}

type TransformHandler struct {
	service       domain.PortraitService
	table         *platformspec.Table
	breakers      BreakerSource
	maxUploadSize int64
}

func NewTransformHandler(service domain.PortraitService, table *platformspec.Table, breakers BreakerSource, maxUploadSizeMB int) *TransformHandler {
	if table == nil {
		table = platformspec.New()
	}
	return &TransformHandler{
		service:       service,
		table:         table,
		breakers:      breakers,
		maxUploadSize: int64(maxUploadSizeMB) * 1024 * 1024,
	}
}

func (h *TransformHandler) RegisterRoutes(engine *ginext.Engine) {
	engine.POST("/transform", h.Transform)
	engine.GET("/jobs", h.ListJobs)
	engine.GET("/jobs/:id", h.GetJob)
	engine.GET("/outputs/*path", h.GetOutput)
	engine.GET("/platforms", h.ListPlatforms)
	engine.GET("/platforms/recommend", h.RecommendPlatforms)
	engine.GET("/breakers", h.ListBreakers)
}

// Transform POST /transform
func (h *TransformHandler) Transform(c *ginext.Context) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to get file from request")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: "No image file provided",
		})
		return
	}
	defer file.Close()

	if header.Size > h.maxUploadSize {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "file_too_large",
			Message: fmt.Sprintf("File size exceeds maximum allowed (%d MB)", h.maxUploadSize/(1024*1024)),
		})
		return
	}

	form, err := parseForm(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	source, err := io.ReadAll(io.LimitReader(file, h.maxUploadSize+1))
	if err != nil {
		zlog.Logger.Error().Err(err).Str("filename", header.Filename).Msg("failed to read upload")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: "Failed to read image file",
		})
		return
	}
	if int64(len(source)) > h.maxUploadSize {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "file_too_large",
			Message: fmt.Sprintf("File size exceeds maximum allowed (%d MB)", h.maxUploadSize/(1024*1024)),
		})
		return
	}

	style, _ := domain.ParseStyle(form.Style)
	in := domain.TransformInput{
		Source:    source,
		Style:     style,
		Platforms: form.PlatformList(),
		Options:   form.Options(),
	}

	if form.Async {
		job, err := h.service.Submit(c.Request.Context(), in)
		if err != nil {
			h.writeError(c, err, "Failed to submit transformation")
			return
		}
		c.JSON(http.StatusAccepted, dto.MapJobToResponse(job, baseURL(c)))
		return
	}

	res, paths, err := h.service.Transform(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err, "Failed to transform image")
		return
	}

	response := dto.MapResultToResponse(res, paths).WithURLs(baseURL(c))
	if res.Cancelled() {
		c.JSON(http.StatusGatewayTimeout, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

// GetJob GET /jobs/:id
func (h *TransformHandler) GetJob(c *ginext.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: "Job ID is required",
		})
		return
	}

	job, err := h.service.GetJob(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err, "Failed to retrieve job")
		return
	}
	c.JSON(http.StatusOK, dto.MapJobToResponse(job, baseURL(c)))
}

// ListJobs GET /jobs
func (h *TransformHandler) ListJobs(c *ginext.Context) {
	limit := 10
	if l := c.Query("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 && val <= 100 {
			limit = val
		}
	}

	offset := 0
	if o := c.Query("offset"); o != "" {
		if val, err := strconv.Atoi(o); err == nil && val >= 0 {
			offset = val
		}
	}

	jobs, err := h.service.ListJobs(c.Request.Context(), limit, offset)
	if err != nil {
		h.writeError(c, err, "Failed to retrieve jobs")
		return
	}
	c.JSON(http.StatusOK, dto.MapJobsToResponse(jobs, baseURL(c), limit, offset))
}

// GetOutput GET /outputs/*path
func (h *TransformHandler) GetOutput(c *ginext.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")
	if path == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: "Output path is required",
		})
		return
	}

	data, contentType, err := h.service.OpenOutput(c.Request.Context(), path)
	if err != nil {
		h.writeError(c, err, "Failed to retrieve output")
		return
	}

	name := path[strings.LastIndex(path, "/")+1:]
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%s", name))
	c.Data(http.StatusOK, contentType, data)
}

// ListPlatforms GET /platforms?style=
func (h *TransformHandler) ListPlatforms(c *ginext.Context) {
	var style domain.Style
	if raw := c.Query("style"); raw != "" {
		s, ok := domain.ParseStyle(raw)
		if !ok {
			h.badStyle(c, raw)
			return
		}
		style = s
	}
	c.JSON(http.StatusOK, dto.MapPlatformsToResponse(h.table, style))
}

// RecommendPlatforms GET /platforms/recommend?style=&limit=
func (h *TransformHandler) RecommendPlatforms(c *ginext.Context) {
	raw := c.Query("style")
	style, ok := domain.ParseStyle(raw)
	if !ok {
		h.badStyle(c, raw)
		return
	}

	limit := 0
	if l := c.Query("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			limit = val
		}
	}

	c.JSON(http.StatusOK, dto.RecommendResponse{
		Style:           string(style),
		Recommendations: h.table.Recommend(style, limit),
	})
}

// ListBreakers GET /breakers
func (h *TransformHandler) ListBreakers(c *ginext.Context) {
	states := []domain.BreakerState{}
	if h.breakers != nil {
		states = append(states, h.breakers.Breakers()...)
	}
	c.JSON(http.StatusOK, dto.BreakersResponse{Breakers: states})
}

func (h *TransformHandler) badStyle(c *ginext.Context, raw string) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{
		Error:   "invalid_style",
		Message: fmt.Sprintf("Unknown style %q, expected one of %v", raw, domain.Styles()),
	})
}

func (h *TransformHandler) writeError(c *ginext.Context, err error, message string) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:    "invalid_request",
			Message:  "Transformation request rejected",
			Problems: ve.Problems,
		})
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{
			Error:   "not_found",
			Message: "Job not found",
		})
	case errors.Is(err, domain.ErrOutputNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{
			Error:   "not_found",
			Message: "Output not found",
		})
	case errors.Is(err, domain.ErrJobsDisabled):
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
			Error:   "jobs_disabled",
			Message: "Asynchronous transformations are not enabled",
		})
	default:
		zlog.Logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg(message)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "server_error",
			Message: message,
		})
	}
}

func parseForm(c *ginext.Context) (dto.TransformForm, error) {
	form := dto.TransformForm{
		Style:     c.PostForm("style"),
		Platforms: c.PostForm("platforms"),
	}

	var err error
	if form.Dramatic, err = formBool(c, "dramatic"); err != nil {
		return form, err
	}
	if form.Premium, err = formBool(c, "premium"); err != nil {
		return form, err
	}
	if form.Async, err = formBool(c, "async"); err != nil {
		return form, err
	}
	if raw := c.PostForm("max_outputs"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return form, fmt.Errorf("max_outputs must be an integer")
		}
		form.MaxOutputs = n
	}
	return form, nil
}

func formBool(c *ginext.Context, key string) (bool, error) {
	raw := c.PostForm(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return v, nil
}

func baseURL(c *ginext.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, c.Request.Host)
}

package dto

import (
	"sort"
	"time"

	"github.com/yokitheyo/styleshot/internal/domain"
	"github.com/yokitheyo/styleshot/internal/platformspec"
)

type ErrorResponse struct {
	Error    string   `json:"error"`
	Message  string   `json:"message,omitempty"`
	Code     int      `json:"code,omitempty"`
	Problems []string `json:"problems,omitempty"`
}

type OutputResponse struct {
	URL    string              `json:"url,omitempty"`
	Path   string              `json:"-"`
	Spec   domain.PlatformSpec `json:"spec"`
	Width  int                 `json:"width"`
	Height int                 `json:"height"`
	Format string              `json:"format"`
	Bytes  int                 `json:"bytes"`
}

type AttemptResponse struct {
	Tier      string  `json:"tier"`
	Provider  string  `json:"provider"`
	Outcome   string  `json:"outcome"`
	Error     string  `json:"error,omitempty"`
	Score     float64 `json:"score,omitempty"`
	LatencyMs int64   `json:"latency_ms"`
}

type TransformResponse struct {
	RequestID        string                     `json:"request_id"`
	Status           string                     `json:"status"`
	Tier             string                     `json:"tier,omitempty"`
	Provider         string                     `json:"provider,omitempty"`
	Model            string                     `json:"model,omitempty"`
	GuaranteeApplied bool                       `json:"guarantee_applied"`
	Enhancement      string                     `json:"enhancement"`
	Quality          domain.QualityReport       `json:"quality"`
	Attempts         []AttemptResponse          `json:"attempts"`
	Outputs          map[string]*OutputResponse `json:"outputs"`
	ElapsedMs        int64                      `json:"elapsed_ms"`
}

type JobResponse struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Style            string            `json:"style"`
	Platforms        []string          `json:"platforms"`
	Tier             string            `json:"tier,omitempty"`
	Provider         string            `json:"provider,omitempty"`
	GuaranteeApplied bool              `json:"guarantee_applied"`
	QualityScore     float64           `json:"quality_score,omitempty"`
	Outputs          map[string]string `json:"outputs,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}

type JobListResponse struct {
	Jobs   []*JobResponse `json:"jobs"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

type PlatformsResponse struct {
	Platforms []domain.PlatformSpec `json:"platforms"`
	Styles    []domain.Style        `json:"styles"`
}

type RecommendResponse struct {
	Style           string                        `json:"style"`
	Recommendations []platformspec.Recommendation `json:"recommendations"`
}

type BreakersResponse struct {
	Breakers []domain.BreakerState `json:"breakers"`
}

// MapResultToResponse copies the result; outputs carry the storage paths, URLs are filled by the handler.
func MapResultToResponse(res *domain.TransformationResult, paths map[string]string) *TransformResponse {
	if res == nil {
		return nil
	}

	resp := &TransformResponse{
		RequestID:        res.RequestID,
		Status:           string(res.Status),
		Tier:             string(res.Tier),
		Provider:         res.Provider,
		Model:            res.Model,
		GuaranteeApplied: res.GuaranteeApplied,
		Enhancement:      res.Enhancement(),
		Quality:          res.Quality,
		Attempts:         make([]AttemptResponse, 0, len(res.Attempts)),
		Outputs:          make(map[string]*OutputResponse, len(res.Outputs)),
		ElapsedMs:        res.Elapsed.Milliseconds(),
	}

	for _, a := range res.Attempts {
		resp.Attempts = append(resp.Attempts, AttemptResponse{
			Tier:      string(a.Tier),
			Provider:  a.Provider,
			Outcome:   string(a.Outcome),
			Error:     a.Error,
			Score:     a.Score,
			LatencyMs: a.Latency.Milliseconds(),
		})
	}

	for platform, out := range res.Outputs {
		resp.Outputs[platform] = &OutputResponse{
			Path:   paths[platform],
			Spec:   out.Spec,
			Width:  out.Image.Width,
			Height: out.Image.Height,
			Format: out.Image.Format,
			Bytes:  len(out.Image.Data),
		}
	}

	return resp
}

// WithURLs points every stored output at GET /outputs on baseURL.
func (r *TransformResponse) WithURLs(baseURL string) *TransformResponse {
	for _, out := range r.Outputs {
		if out.Path != "" {
			out.URL = baseURL + "/outputs/" + out.Path
		}
	}
	return r
}

func MapJobToResponse(job *domain.TransformJob, baseURL string) *JobResponse {
	if job == nil {
		return nil
	}

	resp := &JobResponse{
		ID:               job.ID,
		Status:           string(job.Status),
		Style:            string(job.Style),
		Platforms:        job.Platforms,
		Tier:             string(job.Tier),
		Provider:         job.Provider,
		GuaranteeApplied: job.GuaranteeApplied,
		QualityScore:     job.QualityScore,
		ErrorMessage:     job.ErrorMessage,
		CreatedAt:        job.CreatedAt,
		UpdatedAt:        job.UpdatedAt,
		CompletedAt:      job.CompletedAt,
	}

	if job.IsCompleted() && len(job.Outputs) > 0 {
		resp.Outputs = make(map[string]string, len(job.Outputs))
		for platform, path := range job.Outputs {
			resp.Outputs[platform] = baseURL + "/outputs/" + path
		}
	}

	return resp
}

func MapPlatformsToResponse(table *platformspec.Table, style domain.Style) *PlatformsResponse {
	ids := table.Platforms()
	sort.Strings(ids)

	specs := make([]domain.PlatformSpec, 0, len(ids))
	for _, id := range ids {
		specs = append(specs, table.Resolve(id, style))
	}
	return &PlatformsResponse{Platforms: specs, Styles: domain.Styles()}
}

func MapJobsToResponse(jobs []*domain.TransformJob, baseURL string, limit, offset int) *JobListResponse {
	resp := &JobListResponse{Jobs: make([]*JobResponse, 0, len(jobs)), Limit: limit, Offset: offset}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, MapJobToResponse(job, baseURL))
	}
	return resp
}

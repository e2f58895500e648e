package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/domain"
	"github.com/yokitheyo/styleshot/internal/engine"
	"github.com/yokitheyo/styleshot/internal/infrastructure/processor"
	"github.com/yokitheyo/styleshot/internal/infrastructure/storage"
	"github.com/yokitheyo/styleshot/internal/orchestrator"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

func portraitJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 160, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 160; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 120, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func tinyGIF(t *testing.T) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, 4, 4), []color.Color{color.Black, color.White})
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))
	return buf.Bytes()
}

type memRepo struct {
	mu   sync.Mutex
	jobs map[string]domain.TransformJob
	err  error
	// failStatus makes Update fail for jobs moving into that status
	failStatus domain.JobStatus
}

func newMemRepo() *memRepo {
	return &memRepo{jobs: make(map[string]domain.TransformJob)}
}

func (r *memRepo) Create(_ context.Context, job *domain.TransformJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.jobs[job.ID] = *job
	return nil
}

func (r *memRepo) FindByID(_ context.Context, id string) (*domain.TransformJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

func (r *memRepo) Update(_ context.Context, job *domain.TransformJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		return domain.ErrJobNotFound
	}
	if r.failStatus != "" && job.Status == r.failStatus {
		return errors.New("connection reset")
	}
	r.jobs[job.ID] = *job
	return nil
}

func (r *memRepo) List(_ context.Context, limit, offset int) ([]*domain.TransformJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []*domain.TransformJob
	for i := offset; i < len(ids) && len(out) < limit; i++ {
		job := r.jobs[ids[i]]
		out = append(out, &job)
	}
	return out, nil
}

type memStorage struct {
	mu         sync.Mutex
	objects    map[string][]byte
	failOutput string
	sourceErr  error
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (s *memStorage) save(path string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = data
	return path, nil
}

func (s *memStorage) SaveSource(_ context.Context, name string, r io.Reader) (string, error) {
	return s.save("sources/"+name, r)
}

func (s *memStorage) SaveOutput(_ context.Context, name string, r io.Reader) (string, error) {
	if s.failOutput != "" && strings.Contains(name, s.failOutput) {
		return "", errors.New("disk full")
	}
	return s.save("outputs/"+name, r)
}

func (s *memStorage) get(path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStorage) GetSource(_ context.Context, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	err := s.sourceErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.get(path)
}

func (s *memStorage) GetOutput(_ context.Context, path string) (io.ReadCloser, error) {
	return s.get(path)
}

func (s *memStorage) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

func (s *memStorage) paths(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for p := range s.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out
}

type fakeQueue struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (q *fakeQueue) PublishTransformTask(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.published = append(q.published, jobID)
	return nil
}

func (q *fakeQueue) Close() error { return nil }

type transformerFunc func(ctx context.Context, req domain.TransformationRequest) (*domain.TransformationResult, error)

func (f transformerFunc) Transform(ctx context.Context, req domain.TransformationRequest) (*domain.TransformationResult, error) {
	return f(ctx, req)
}

func newOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	prims := processor.NewImageProcessor()
	orch, err := orchestrator.New(orchestrator.Deps{
		Primitives: prims,
		Engine:     engine.New(prims, engine.Config{WorkingSize: 128}),
	}, orchestrator.Config{ShapingWorkers: 2})
	require.NoError(t, err)
	t.Cleanup(orch.Close)
	return orch
}

func input(src []byte, style domain.Style, platforms ...string) domain.TransformInput {
	return domain.TransformInput{Source: src, Style: style, Platforms: platforms}
}

var formats = []string{"jpg", "jpeg", "png", "webp"}

func TestTransformStoresEveryPlatform(t *testing.T) {
	store := newMemStorage()
	uc := NewTransformUsecase(newOrchestrator(t), store, nil, nil, TransformConfig{SupportedFormats: formats})

	res, paths, err := uc.Transform(context.Background(), input(portraitJPEG(t), domain.StyleExecutive, "LinkedIn", "resume"))
	require.NoError(t, err)

	assert.True(t, res.GuaranteeApplied)
	assert.Equal(t, domain.ResultCompleted, res.Status)
	require.Len(t, paths, 2)
	assert.Equal(t, "outputs/"+res.RequestID+"/linkedin.jpg", paths["linkedin"])
	assert.Equal(t, "outputs/"+res.RequestID+"/resume.jpg", paths["resume"])

	data, ctype, err := uc.OpenOutput(context.Background(), "/"+paths["linkedin"])
	require.NoError(t, err)
	assert.Equal(t, res.Outputs["linkedin"].Image.Data, data)
	assert.Equal(t, "image/jpeg", ctype)
}

func TestTransformRejectsUnsafePlatformIDs(t *testing.T) {
	store := newMemStorage()
	_, err := store.SaveSource(context.Background(), "victim-job.jpg", strings.NewReader("original upload"))
	require.NoError(t, err)
	uc := NewTransformUsecase(newOrchestrator(t), store, nil, nil, TransformConfig{SupportedFormats: formats})

	for _, platform := range []string{"../../sources/victim-job", "a/b", "..", "-linkedin", strings.Repeat("x", 33)} {
		_, paths, err := uc.Transform(context.Background(), input(portraitJPEG(t), domain.StyleCasual, platform))
		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve, platform)
		assert.Nil(t, paths)
	}

	assert.Empty(t, store.paths("outputs/"))
	rc, err := store.GetSource(context.Background(), "sources/victim-job.jpg")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "original upload", string(data))
}

func TestTransformRejectsUnsupportedFormat(t *testing.T) {
	store := newMemStorage()
	uc := NewTransformUsecase(newOrchestrator(t), store, nil, nil, TransformConfig{SupportedFormats: formats})

	_, _, err := uc.Transform(context.Background(), input(tinyGIF(t), domain.StyleCorporate, "linkedin"))
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Contains(t, err.Error(), "image/gif")
	assert.Empty(t, store.paths(""))
}

func TestTransformPassesValidationThrough(t *testing.T) {
	uc := NewTransformUsecase(newOrchestrator(t), newMemStorage(), nil, nil, TransformConfig{SupportedFormats: formats})

	_, _, err := uc.Transform(context.Background(), input(portraitJPEG(t), domain.Style("vaporwave")))
	require.Error(t, err)

	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Problems, 2)
}

func TestTransformCancelledStoresNothing(t *testing.T) {
	store := newMemStorage()
	uc := NewTransformUsecase(newOrchestrator(t), store, nil, nil, TransformConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, paths, err := uc.Transform(ctx, input(portraitJPEG(t), domain.StyleCasual, "instagram"))
	require.NoError(t, err)
	assert.True(t, res.Cancelled())
	assert.Empty(t, paths)
	assert.Empty(t, store.paths(""))
}

func TestTransformRollsBackPartialOutputs(t *testing.T) {
	store := newMemStorage()
	store.failOutput = "twitter"
	uc := NewTransformUsecase(newOrchestrator(t), store, nil, nil, TransformConfig{})

	_, _, err := uc.Transform(context.Background(), input(portraitJPEG(t), domain.StyleStartup, "linkedin", "twitter"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorageFailed)
	assert.Empty(t, store.paths("outputs/"))
}

func TestSubmit(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		uc := NewTransformUsecase(newOrchestrator(t), newMemStorage(), nil, nil, TransformConfig{})
		_, err := uc.Submit(context.Background(), input(portraitJPEG(t), domain.StyleCasual, "linkedin"))
		assert.ErrorIs(t, err, domain.ErrJobsDisabled)

		_, err = uc.GetJob(context.Background(), "x")
		assert.ErrorIs(t, err, domain.ErrJobsDisabled)

		_, err = uc.ListJobs(context.Background(), 10, 0)
		assert.ErrorIs(t, err, domain.ErrJobsDisabled)
	})

	t.Run("collects problems before storing", func(t *testing.T) {
		store := newMemStorage()
		uc := NewTransformUsecase(newOrchestrator(t), store, newMemRepo(), &fakeQueue{}, TransformConfig{SupportedFormats: formats})

		in := domain.TransformInput{Source: tinyGIF(t), Style: "retro", Options: domain.TransformOptions{MaxOutputs: -1}}
		_, err := uc.Submit(context.Background(), in)

		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Len(t, ve.Problems, 4)
		assert.Empty(t, store.paths(""))
	})

	t.Run("rejects unsafe platform ids", func(t *testing.T) {
		store := newMemStorage()
		queue := &fakeQueue{}
		uc := NewTransformUsecase(newOrchestrator(t), store, newMemRepo(), queue, TransformConfig{SupportedFormats: formats})

		_, err := uc.Submit(context.Background(), input(portraitJPEG(t), domain.StyleCasual, "linkedin", "../outputs/x"))

		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Len(t, ve.Problems, 1)
		assert.Empty(t, store.paths(""))
		assert.Empty(t, queue.published)
	})

	t.Run("queues a pending job", func(t *testing.T) {
		store := newMemStorage()
		repo := newMemRepo()
		queue := &fakeQueue{}
		uc := NewTransformUsecase(newOrchestrator(t), store, repo, queue, TransformConfig{SupportedFormats: formats})

		job, err := uc.Submit(context.Background(), input(portraitJPEG(t), domain.StyleFormal, "resume", "LinkedIn", "resume"))
		require.NoError(t, err)

		assert.Equal(t, domain.JobPending, job.Status)
		assert.Equal(t, []string{"linkedin", "resume"}, job.Platforms)
		assert.Equal(t, "sources/"+job.ID+".jpg", job.SourcePath)
		assert.Equal(t, []string{job.ID}, queue.published)

		stored, err := uc.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobPending, stored.Status)

		jobs, err := uc.ListJobs(context.Background(), 10, 0)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, job.ID, jobs[0].ID)
	})

	t.Run("queue failure marks the job failed", func(t *testing.T) {
		repo := newMemRepo()
		queue := &fakeQueue{err: domain.ErrQueueFailed}
		uc := NewTransformUsecase(newOrchestrator(t), newMemStorage(), repo, queue, TransformConfig{})

		_, err := uc.Submit(context.Background(), input(portraitJPEG(t), domain.StyleFormal, "resume"))
		assert.ErrorIs(t, err, domain.ErrQueueFailed)

		require.Len(t, repo.jobs, 1)
		for _, job := range repo.jobs {
			assert.Equal(t, domain.JobFailed, job.Status)
		}
	})
}

func TestOpenOutputNotFound(t *testing.T) {
	uc := NewTransformUsecase(newOrchestrator(t), newMemStorage(), nil, nil, TransformConfig{})
	_, _, err := uc.OpenOutput(context.Background(), "outputs/missing/linkedin.jpg")
	assert.ErrorIs(t, err, domain.ErrOutputNotFound)
}

func seedJob(t *testing.T, repo *memRepo, store *memStorage, status domain.JobStatus, style domain.Style, src []byte) *domain.TransformJob {
	t.Helper()
	path, err := store.SaveSource(context.Background(), "seed.jpg", bytes.NewReader(src))
	require.NoError(t, err)
	job := &domain.TransformJob{
		ID:         "job-1",
		SourcePath: path,
		Style:      style,
		Platforms:  []string{"linkedin", "myspace"},
		Status:     status,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, repo.Create(context.Background(), job))
	return job
}

func TestProcessJobCompletes(t *testing.T) {
	repo, store := newMemRepo(), newMemStorage()
	seedJob(t, repo, store, domain.JobPending, domain.StyleCorporate, portraitJPEG(t))

	uc := NewJobUsecase(repo, store, newOrchestrator(t), time.Minute)
	require.NoError(t, uc.ProcessJob(context.Background(), "job-1"))

	job, err := repo.FindByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.Equal(t, domain.TierGuarantee, job.Tier)
	assert.Equal(t, orchestrator.GuaranteeProvider, job.Provider)
	assert.True(t, job.GuaranteeApplied)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, "outputs/job-1/linkedin.jpg", job.Outputs["linkedin"])
	assert.Equal(t, "outputs/job-1/myspace.jpg", job.Outputs["myspace"])
	assert.Len(t, store.paths("outputs/job-1/"), 2)
}

func TestProcessJobTerminalFailures(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		repo, store := newMemRepo(), newMemStorage()
		seedJob(t, repo, store, domain.JobPending, domain.Style("noir"), portraitJPEG(t))

		uc := NewJobUsecase(repo, store, newOrchestrator(t), 0)
		require.NoError(t, uc.ProcessJob(context.Background(), "job-1"))

		job, _ := repo.FindByID(context.Background(), "job-1")
		assert.Equal(t, domain.JobFailed, job.Status)
		assert.Contains(t, job.ErrorMessage, "noir")
	})

	t.Run("missing source", func(t *testing.T) {
		repo, store := newMemRepo(), newMemStorage()
		seedJob(t, repo, store, domain.JobPending, domain.StyleCasual, portraitJPEG(t))
		require.NoError(t, store.Delete(context.Background(), "sources/seed.jpg"))

		uc := NewJobUsecase(repo, store, newOrchestrator(t), 0)
		require.NoError(t, uc.ProcessJob(context.Background(), "job-1"))

		job, _ := repo.FindByID(context.Background(), "job-1")
		assert.Equal(t, domain.JobFailed, job.Status)
	})

	t.Run("timeout", func(t *testing.T) {
		repo, store := newMemRepo(), newMemStorage()
		seedJob(t, repo, store, domain.JobPending, domain.StyleCasual, portraitJPEG(t))

		slow := transformerFunc(func(ctx context.Context, req domain.TransformationRequest) (*domain.TransformationResult, error) {
			<-ctx.Done()
			return &domain.TransformationResult{RequestID: req.ID(), Status: domain.ResultCancelled}, nil
		})
		uc := NewJobUsecase(repo, store, slow, 20*time.Millisecond)
		require.NoError(t, uc.ProcessJob(context.Background(), "job-1"))

		job, _ := repo.FindByID(context.Background(), "job-1")
		assert.Equal(t, domain.JobCancelled, job.Status)
	})
}

func TestProcessJobTransientFailureCanRunAgain(t *testing.T) {
	repo, store := newMemRepo(), newMemStorage()
	seedJob(t, repo, store, domain.JobPending, domain.StyleStartup, portraitJPEG(t))
	store.sourceErr = errors.New("i/o timeout")

	uc := NewJobUsecase(repo, store, newOrchestrator(t), time.Minute)
	require.Error(t, uc.ProcessJob(context.Background(), "job-1"))

	job, _ := repo.FindByID(context.Background(), "job-1")
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "i/o timeout")

	store.mu.Lock()
	store.sourceErr = nil
	store.mu.Unlock()
	require.NoError(t, uc.ProcessJob(context.Background(), "job-1"))

	job, _ = repo.FindByID(context.Background(), "job-1")
	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.Empty(t, job.ErrorMessage)
}

func TestProcessJobInterruptedByShutdown(t *testing.T) {
	interrupt := func(cancel context.CancelFunc) transformerFunc {
		return func(_ context.Context, req domain.TransformationRequest) (*domain.TransformationResult, error) {
			cancel()
			return &domain.TransformationResult{RequestID: req.ID(), Status: domain.ResultCancelled}, nil
		}
	}

	t.Run("status recorded", func(t *testing.T) {
		repo, store := newMemRepo(), newMemStorage()
		seedJob(t, repo, store, domain.JobPending, domain.StyleCasual, portraitJPEG(t))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		uc := NewJobUsecase(repo, store, interrupt(cancel), time.Minute)
		assert.ErrorIs(t, uc.ProcessJob(ctx, "job-1"), context.Canceled)

		job, _ := repo.FindByID(context.Background(), "job-1")
		assert.Equal(t, domain.JobFailed, job.Status)
		assert.Equal(t, "interrupted by worker shutdown", job.ErrorMessage)
	})

	t.Run("status write fails", func(t *testing.T) {
		repo, store := newMemRepo(), newMemStorage()
		seedJob(t, repo, store, domain.JobPending, domain.StyleCasual, portraitJPEG(t))
		repo.failStatus = domain.JobFailed

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		uc := NewJobUsecase(repo, store, interrupt(cancel), time.Minute)
		assert.ErrorIs(t, uc.ProcessJob(ctx, "job-1"), context.Canceled)

		job, _ := repo.FindByID(context.Background(), "job-1")
		assert.Equal(t, domain.JobProcessing, job.Status)
	})
}

func TestProcessJobSkipsByStatus(t *testing.T) {
	calls := 0
	counting := transformerFunc(func(context.Context, domain.TransformationRequest) (*domain.TransformationResult, error) {
		calls++
		return nil, errors.New("unexpected call")
	})

	repo, store := newMemRepo(), newMemStorage()
	seedJob(t, repo, store, domain.JobProcessing, domain.StyleCasual, portraitJPEG(t))
	uc := NewJobUsecase(repo, store, counting, 0)

	assert.ErrorIs(t, uc.ProcessJob(context.Background(), "job-1"), domain.ErrJobAlreadyProcessing)

	job, _ := repo.FindByID(context.Background(), "job-1")
	job.Status = domain.JobCompleted
	require.NoError(t, repo.Update(context.Background(), job))
	assert.NoError(t, uc.ProcessJob(context.Background(), "job-1"))

	assert.ErrorIs(t, uc.ProcessJob(context.Background(), "missing"), domain.ErrJobNotFound)
	assert.Zero(t, calls)
}

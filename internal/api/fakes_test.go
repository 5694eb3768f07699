package api

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/dunamismax/pixelkit/internal/domain"
	"github.com/dunamismax/pixelkit/internal/queue"
	"github.com/dunamismax/pixelkit/internal/ratelimit"
	"github.com/hibiken/asynq"
)

type fakeProcessor struct {
	mu        sync.Mutex
	results   []domain.Result
	calls     []domain.TransformRequest
	discarded []string

	// blockFirst makes the first Apply wait for its context to end.
	blockFirst bool
	started    chan struct{}
}

func (p *fakeProcessor) Apply(ctx context.Context, _ domain.ImageAsset, req domain.TransformRequest) domain.Result {
	p.mu.Lock()
	n := len(p.calls)
	p.calls = append(p.calls, req)
	res := domain.Failed(domain.KindBackendFailure, "no result configured")
	if n < len(p.results) {
		res = p.results[n]
	}
	block := p.blockFirst && n == 0
	p.mu.Unlock()

	if block {
		close(p.started)
		<-ctx.Done()
	}
	return res
}

func (p *fakeProcessor) Process(ctx context.Context, source domain.ImageAsset, opts domain.ProcessOptions) domain.Result {
	steps := opts.Steps()
	if len(steps) == 0 {
		return domain.FailureFrom(domain.ValidationError("options", "at least one processing option is required"))
	}
	return p.Apply(ctx, source, steps[len(steps)-1])
}

func (p *fakeProcessor) Discard(asset domain.ImageAsset) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discarded = append(p.discarded, asset.ID)
}

func (p *fakeProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeLibrary struct {
	picked   []string
	deleted  []string
	saveErr  error
	shareURL string
}

func (l *fakeLibrary) Pick(_ context.Context, fileName string, r io.Reader) (domain.ImageAsset, error) {
	if r == nil || fileName == "" {
		return domain.ImageAsset{}, domain.ErrNothingPicked
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return domain.ImageAsset{}, err
	}
	l.picked = append(l.picked, fileName)
	return domain.ImageAsset{
		ID:         "picked-1",
		URI:        "file:///tmp/" + fileName,
		FileName:   fileName,
		Size:       domain.SizeOf(int64(len(data))),
		Dimensions: &domain.Dimensions{Width: 4, Height: 4},
		Format:     domain.FormatFromFileName(fileName),
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func (l *fakeLibrary) Info(_ context.Context, asset domain.ImageAsset) (domain.ImageAsset, error) {
	return asset, nil
}

func (l *fakeLibrary) Delete(_ context.Context, asset domain.ImageAsset) error {
	l.deleted = append(l.deleted, asset.ID)
	return nil
}

func (l *fakeLibrary) SaveToGallery(_ context.Context, asset domain.ImageAsset, saveAs string) (domain.ImageAsset, error) {
	if l.saveErr != nil {
		return domain.ImageAsset{}, l.saveErr
	}
	if saveAs == "" {
		saveAs = asset.FileName
	}
	saved := asset
	saved.URI = "file:///gallery/CompressImage/" + saveAs
	saved.FileName = saveAs
	return saved, nil
}

func (l *fakeLibrary) Share(_ context.Context, asset domain.ImageAsset) (string, error) {
	return l.shareURL + asset.ID, nil
}

type fakeQueue struct {
	payloads []queue.TransformPayload
	err      error
}

func (q *fakeQueue) EnqueueTransform(_ context.Context, payload queue.TransformPayload) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{
		ID:            payload.JobID,
		Queue:         "default",
		State:         asynq.TaskStatePending,
		NextProcessAt: time.Now().UTC(),
	}, nil
}

type fakeLimiter struct {
	decision ratelimit.Decision
	subjects []string
}

func (l *fakeLimiter) Allow(_ context.Context, subject string, _ int) (ratelimit.Decision, error) {
	l.subjects = append(l.subjects, subject)
	return l.decision, nil
}

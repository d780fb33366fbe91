package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kiranshivaraju/adlens/internal/queue"
	"github.com/kiranshivaraju/adlens/internal/store"
	"github.com/kiranshivaraju/adlens/pkg/models"
)

type progressEvent struct {
	Attempt  int
	Progress int
}

// fakeStore is an in-memory store.Store with the same state guards as the
// Postgres implementation.
type fakeStore struct {
	mu          sync.Mutex
	jobs        map[string]*models.Job
	records     map[string][]models.Record
	analyses    map[string]*models.AnalysisResult
	enrichments map[string]*models.EnrichmentResult
	progress    map[string][]progressEvent

	insertErr   error
	insertFails int
	createErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:        make(map[string]*models.Job),
		records:     make(map[string][]models.Record),
		analyses:    make(map[string]*models.AnalysisResult),
		enrichments: make(map[string]*models.EnrichmentResult),
		progress:    make(map[string][]progressEvent),
	}
}

func (s *fakeStore) Ping(context.Context) error { return nil }

func (s *fakeStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.jobs[job.ID]; ok {
		return store.ErrDuplicateKey
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *fakeStore) GetJob(_ context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *fakeStore) ListJobs(_ context.Context, f store.JobFilter) ([]*models.Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, j := range s.jobs {
		if f.Status == "" || j.Status == f.Status {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, len(out), nil
}

func (s *fakeStore) DeleteJob(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false, nil
	}
	delete(s.jobs, id)
	delete(s.records, id)
	delete(s.analyses, id)
	delete(s.enrichments, id)
	return true, nil
}

func (s *fakeStore) StartAttempt(_ context.Context, a store.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[a.JobID]
	if !ok {
		return store.ErrNotFound
	}
	if j.Token != a.Token {
		return store.ErrStaleAttempt
	}
	if j.Terminal() {
		return store.ErrInvalidTransition
	}
	if a.Number <= j.Attempt {
		return store.ErrStaleAttempt
	}
	j.Status = models.JobStatusProcessing
	j.Attempt = a.Number
	j.Progress = 0
	j.ErrorMessage = nil
	s.progress[a.JobID] = append(s.progress[a.JobID], progressEvent{a.Number, 0})
	return nil
}

// current returns the job a still owns, or nil. Callers hold s.mu.
func (s *fakeStore) current(a store.Attempt) *models.Job {
	j, ok := s.jobs[a.JobID]
	if !ok || j.Token != a.Token || j.Attempt != a.Number || j.Status != models.JobStatusProcessing {
		return nil
	}
	return j
}

func (s *fakeStore) UpdateProgress(_ context.Context, a store.Attempt, progress int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.current(a)
	if j == nil || progress < j.Progress {
		return store.ErrStaleAttempt
	}
	j.Progress = progress
	j.Message = &message
	s.progress[a.JobID] = append(s.progress[a.JobID], progressEvent{a.Number, progress})
	return nil
}

func (s *fakeStore) RecordAttemptFailure(_ context.Context, a store.Attempt, message, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.current(a)
	if j == nil {
		return store.ErrStaleAttempt
	}
	j.Message = &message
	j.ErrorMessage = &errMsg
	return nil
}

func (s *fakeStore) FinishJob(_ context.Context, a store.Attempt, status string, opts ...store.JobUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[a.JobID]
	if !ok || j.Terminal() || j.Token != a.Token {
		return store.ErrStaleAttempt
	}
	if status == models.JobStatusCompleted {
		if s.current(a) == nil {
			return store.ErrStaleAttempt
		}
		j.Progress = 100
		j.ErrorMessage = nil
		s.progress[a.JobID] = append(s.progress[a.JobID], progressEvent{a.Number, 100})
	} else if j.Attempt > a.Number {
		return store.ErrStaleAttempt
	}

	upd := store.ApplyOptions(opts...)
	if upd.Message != nil {
		j.Message = upd.Message
	}
	if upd.ErrorMessage != nil {
		j.ErrorMessage = upd.ErrorMessage
	}
	now := time.Now().UTC()
	j.Status = status
	j.CompletedAt = &now
	return nil
}

func (s *fakeStore) DeleteRecords(_ context.Context, a store.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current(a) == nil {
		return store.ErrStaleAttempt
	}
	delete(s.records, a.JobID)
	return nil
}

func (s *fakeStore) InsertRecords(_ context.Context, a store.Attempt, records []models.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertFails > 0 {
		s.insertFails--
		return 0, s.insertErr
	}
	if s.current(a) == nil {
		return 0, store.ErrStaleAttempt
	}
	s.records[a.JobID] = append(s.records[a.JobID], records...)
	return int64(len(records)), nil
}

func (s *fakeStore) ListRecords(_ context.Context, jobID string, page, limit int) ([]models.Record, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, limit, offset := store.Paginate(page, limit)
	all := s.records[jobID]
	if offset >= len(all) {
		return []models.Record{}, len(all), nil
	}
	end := min(offset+limit, len(all))
	return append([]models.Record(nil), all[offset:end]...), len(all), nil
}

func (s *fakeStore) SaveAnalysisResult(_ context.Context, a store.Attempt, r *models.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current(a) == nil {
		return store.ErrStaleAttempt
	}
	s.analyses[a.JobID] = r
	return nil
}

func (s *fakeStore) GetAnalysisResult(_ context.Context, jobID string) (*models.AnalysisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.analyses[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (s *fakeStore) SaveEnrichment(_ context.Context, a store.Attempt, r *models.EnrichmentResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current(a) == nil {
		return store.ErrStaleAttempt
	}
	s.enrichments[a.JobID] = r
	return nil
}

func (s *fakeStore) GetEnrichment(_ context.Context, jobID string) (*models.EnrichmentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.enrichments[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (s *fakeStore) job(id string) *models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		cp := *j
		return &cp
	}
	return nil
}

func (s *fakeStore) events(id string) []progressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]progressEvent(nil), s.progress[id]...)
}

// fakeQueue records what the manager asked of it.
type fakeQueue struct {
	mu         sync.Mutex
	queued     map[string]queue.Message
	acked      []string
	retries    []time.Duration
	enqueueErr error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{queued: make(map[string]queue.Message)}
}

func (q *fakeQueue) Enqueue(_ context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	if _, ok := q.queued[msg.JobID]; ok {
		return queue.ErrDuplicate
	}
	q.queued[msg.JobID] = msg
	return nil
}

func (q *fakeQueue) Retry(_ context.Context, jobID, token string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.queued[jobID]
	if !ok || (token != "" && msg.Token != token) {
		return queue.ErrNotQueued
	}
	q.retries = append(q.retries, delay)
	return nil
}

func (q *fakeQueue) Ack(_ context.Context, jobID, token string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if msg, ok := q.queued[jobID]; ok && token != "" && msg.Token != token {
		return nil
	}
	delete(q.queued, jobID)
	q.acked = append(q.acked, jobID)
	return nil
}

func (q *fakeQueue) Remove(_ context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.queued[jobID]
	delete(q.queued, jobID)
	return ok, nil
}

func (q *fakeQueue) delivery(jobID string, attempt int) *queue.Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	return &queue.Delivery{Message: q.queued[jobID], Attempt: attempt}
}

func (q *fakeQueue) isQueued(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.queued[jobID]
	return ok
}

// fakeCache is a map-backed ResultCache.
type fakeCache struct {
	mu      sync.Mutex
	results map[string]*models.JobResult
	gets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{results: make(map[string]*models.JobResult)}
}

func (c *fakeCache) SetResult(_ context.Context, r *models.JobResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[r.JobID] = r
	return nil
}

func (c *fakeCache) GetResult(_ context.Context, jobID string) (*models.JobResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	r, ok := c.results[jobID]
	return r, ok, nil
}

func (c *fakeCache) DeleteResult(_ context.Context, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.results, jobID)
	return nil
}

func (c *fakeCache) has(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.results[jobID]
	return ok
}

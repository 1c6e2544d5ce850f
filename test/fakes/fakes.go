// Package fakes has in-memory doubles for the worker dependencies: the
// record store, the queue transport, both storage tiers, and the profile
// service. All of them are threadsafe so tests can race workers against
// each other.
package fakes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	types "github.com/Shyp/go-types"
	"github.com/QixShawnChen/cloud-gene-annotation/models"
	"github.com/QixShawnChen/cloud-gene-annotation/models/jobs"
	"github.com/QixShawnChen/cloud-gene-annotation/profiles"
	"github.com/QixShawnChen/cloud-gene-annotation/queue"
	"github.com/QixShawnChen/cloud-gene-annotation/storage"
)

// RecordStore is an in-memory job record store with the same conditional
// update semantics as the database-backed one.
type RecordStore struct {
	mu   sync.Mutex
	jobs map[string]*models.AnnotationJob
}

func NewRecordStore() *RecordStore {
	return &RecordStore{jobs: make(map[string]*models.AnnotationJob)}
}

func (s *RecordStore) Insert(jobID, userID, inputRef string, submitTime time.Time) (*models.AnnotationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; ok {
		return nil, fmt.Errorf("job %s already exists", jobID)
	}
	j := &models.AnnotationJob{
		ID:         jobID,
		UserID:     userID,
		Status:     models.StatusPending,
		SubmitTime: submitTime,
		InputRef:   inputRef,
	}
	s.jobs[jobID] = j
	cp := *j
	return &cp, nil
}

// Put stores a record as-is, for tests that need a job in a later state
// without walking it there.
func (s *RecordStore) Put(j *models.AnnotationJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.ID] = &cp
}

func (s *RecordStore) Get(jobID string) (*models.AnnotationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *RecordStore) GetByUser(userID string, status models.JobStatus) ([]*models.AnnotationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AnnotationJob
	for _, j := range s.jobs {
		if j.UserID != userID {
			continue
		}
		if status != "" && j.Status != status {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (s *RecordStore) UpdateStatus(jobID string, expected, next models.JobStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != expected {
		return false, nil
	}
	j.Status = next
	return true, nil
}

func (s *RecordStore) Complete(jobID, resultRef, logRef string, completeTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return jobs.ErrNotFound
	}
	j.Status = models.StatusCompleted
	j.ResultRef = resultRef
	j.LogRef = logRef
	j.CompleteTime = types.NullTime{Valid: true, Time: completeTime}
	return nil
}

func (s *RecordStore) Archive(jobID string, expected models.JobStatus, archiveID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != expected {
		return false, nil
	}
	j.Status = models.StatusArchived
	j.ArchiveID = archiveID
	j.ResultRef = ""
	return true, nil
}

func (s *RecordStore) MarkRestoring(jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != models.StatusArchived {
		return false, nil
	}
	j.Status = models.StatusRestoring
	return true, nil
}

func (s *RecordStore) MarkRestored(jobID, resultRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != models.StatusRestoring {
		return false, nil
	}
	j.Status = models.StatusRestored
	j.ResultRef = resultRef
	j.ArchiveID = ""
	return true, nil
}

func (s *RecordStore) GetOldByStatus(status models.JobStatus, olderThan time.Time) ([]*models.AnnotationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AnnotationJob
	for _, j := range s.jobs {
		if j.Status == status {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Queue is an in-memory queue transport. A received message moves to an
// in-flight set until it is deleted; Redeliver returns all in-flight
// messages to their queues, simulating a lapsed visibility timeout.
type Queue struct {
	mu            sync.Mutex
	queues        map[string][]*queue.Message
	inflight      map[string]*queue.Message
	subscriptions map[string][]string
	nextID        int
	// Delays records ChangeVisibility calls by receipt.
	Delays map[string]time.Duration
}

func NewQueue() *Queue {
	return &Queue{
		queues:        make(map[string][]*queue.Message),
		inflight:      make(map[string]*queue.Message),
		subscriptions: make(map[string][]string),
		Delays:        make(map[string]time.Duration),
	}
}

func (q *Queue) Subscribe(topic, name string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subscriptions[topic] = append(q.subscriptions[topic], name)
}

func (q *Queue) Publish(topic string, payload []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	count := 0
	for _, name := range q.subscriptions[topic] {
		q.sendLocked(name, payload)
		count++
	}
	return count, nil
}

// Send places a message directly on a queue, bypassing fan-out.
func (q *Queue) Send(name string, payload []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sendLocked(name, payload)
}

func (q *Queue) sendLocked(name string, payload []byte) {
	q.nextID++
	id, _ := types.GenerateUUID(queue.Prefix)
	m := &queue.Message{
		ID:      id,
		Queue:   name,
		Payload: append([]byte(nil), payload...),
	}
	q.queues[name] = append(q.queues[name], m)
}

func (q *Queue) Receive(ctx context.Context, name string, wait time.Duration) (*queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.queues[name]
	if len(msgs) == 0 {
		return nil, queue.ErrNoMessages
	}
	m := msgs[0]
	q.queues[name] = msgs[1:]
	receipt, _ := types.GenerateUUID("rcpt_")
	m.Receipt = receipt.String()
	m.Attempts++
	q.inflight[m.Receipt] = m
	cp := *m
	return &cp, nil
}

func (q *Queue) Delete(name, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[receipt]; !ok {
		return queue.ErrNotFound
	}
	delete(q.inflight, receipt)
	return nil
}

func (q *Queue) ChangeVisibility(name, receipt string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.inflight[receipt]
	if !ok {
		return queue.ErrNotFound
	}
	q.Delays[receipt] = delay
	delete(q.inflight, receipt)
	q.queues[m.Queue] = append(q.queues[m.Queue], m)
	return nil
}

// Redeliver returns every in-flight message to its queue.
func (q *Queue) Redeliver() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for receipt, m := range q.inflight {
		delete(q.inflight, receipt)
		q.queues[m.Queue] = append(q.queues[m.Queue], m)
	}
}

// Depth returns the number of waiting messages on a queue.
func (q *Queue) Depth(name string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[name])
}

// InflightCount returns the number of received-but-unacknowledged
// messages.
func (q *Queue) InflightCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// BlobStore is an in-memory hot-tier store.
type BlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string][]byte)}
}

func blobKey(bucket, key string) string {
	return bucket + "/" + key
}

func (b *BlobStore) Upload(ctx context.Context, bucket, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[blobKey(bucket, key)] = data
	return nil
}

func (b *BlobStore) GetBytes(ctx context.Context, bucket, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[blobKey(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("no object at %s/%s", bucket, key)
	}
	return append([]byte(nil), data...), nil
}

func (b *BlobStore) Download(ctx context.Context, bucket, key, path string) error {
	data, err := b.GetBytes(ctx, bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (b *BlobStore) Delete(ctx context.Context, bucket, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, blobKey(bucket, key))
	return nil
}

// Exists reports whether an object is present.
func (b *BlobStore) Exists(bucket, key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[blobKey(bucket, key)]
	return ok
}

type retrieval struct {
	archiveID string
	corr      storage.Correlation
	// body is snapshotted at initiation; like the real cold tier, a
	// finished retrieval stays fetchable after its archive is deleted.
	body []byte
}

// ColdStore is an in-memory archive tier. Retrievals complete instantly
// unless Status overrides the reported state.
type ColdStore struct {
	mu         sync.Mutex
	archives   map[string][]byte
	retrievals map[string]retrieval
	nextID     int
	// Status, if non-empty, is what CheckStatus reports for every
	// retrieval.
	Status storage.RetrievalStatus
	// FailInitiations makes the next N InitiateRetrieval calls fail.
	FailInitiations int
	// InitiateCalls counts InitiateRetrieval attempts.
	InitiateCalls int
	// Correlations records the correlation passed with each retrieval,
	// keyed by retrieval id.
	Correlations map[string]storage.Correlation
}

func NewColdStore() *ColdStore {
	return &ColdStore{
		archives:     make(map[string][]byte),
		retrievals:   make(map[string]retrieval),
		Correlations: make(map[string]storage.Correlation),
	}
}

func (c *ColdStore) Archive(ctx context.Context, body []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := fmt.Sprintf("archive-%d", c.nextID)
	c.archives[id] = append([]byte(nil), body...)
	return id, nil
}

// PutArchive stores bytes under a fixed archive id.
func (c *ColdStore) PutArchive(archiveID string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.archives[archiveID] = append([]byte(nil), body...)
}

func (c *ColdStore) InitiateRetrieval(ctx context.Context, archiveID string, corr storage.Correlation) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.InitiateCalls++
	if c.FailInitiations > 0 {
		c.FailInitiations--
		return "", errors.New("retrieval initiation unavailable")
	}
	body, ok := c.archives[archiveID]
	if !ok {
		return "", fmt.Errorf("no archive %s", archiveID)
	}
	c.nextID++
	id := fmt.Sprintf("retrieval-%d", c.nextID)
	c.retrievals[id] = retrieval{
		archiveID: archiveID,
		corr:      corr,
		body:      append([]byte(nil), body...),
	}
	c.Correlations[id] = corr
	return id, nil
}

func (c *ColdStore) CheckStatus(ctx context.Context, retrievalID string) (storage.RetrievalStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status != "" {
		return c.Status, nil
	}
	if _, ok := c.retrievals[retrievalID]; !ok {
		return "", fmt.Errorf("no retrieval %s", retrievalID)
	}
	return storage.RetrievalSucceeded, nil
}

func (c *ColdStore) Fetch(ctx context.Context, retrievalID string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.retrievals[retrievalID]
	if !ok {
		return nil, fmt.Errorf("no retrieval %s", retrievalID)
	}
	return append([]byte(nil), r.body...), nil
}

func (c *ColdStore) DeleteArchive(ctx context.Context, archiveID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.archives, archiveID)
	return nil
}

// ArchiveCount returns the number of stored archives.
func (c *ColdStore) ArchiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.archives)
}

// HasArchive reports whether an archive id still exists.
func (c *ColdStore) HasArchive(archiveID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.archives[archiveID]
	return ok
}

// ReadBytes returns the body stored for an archive id, for tests that
// archive on the fly and need to find the generated id.
func (c *ColdStore) ReadBytes(archiveID string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	body, ok := c.archives[archiveID]
	return body, ok
}

// ProfileDirectory is an in-memory user-profile service.
type ProfileDirectory struct {
	mu    sync.Mutex
	tiers map[string]string
}

func NewProfileDirectory() *ProfileDirectory {
	return &ProfileDirectory{tiers: make(map[string]string)}
}

// SetTier records a user's tier. Unknown users default to standard.
func (p *ProfileDirectory) SetTier(userID, tier string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tiers[userID] = tier
}

func (p *ProfileDirectory) Get(userID string) (*profiles.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tier, ok := p.tiers[userID]
	if !ok {
		tier = profiles.TierStandard
	}
	return &profiles.Profile{UserID: userID, Tier: tier}, nil
}

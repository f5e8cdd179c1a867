package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// JobStatus represents the state of one page in a batch.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusParsing   JobStatus = "parsing"
	StatusChunking  JobStatus = "chunking"
	StatusStoring   JobStatus = "storing"
	StatusIndexing  JobStatus = "indexing"
	StatusCompleted JobStatus = "completed"
	StatusSkipped   JobStatus = "skipped"
	StatusFailed    JobStatus = "failed"
)

// Done reports whether the status is terminal.
func (s JobStatus) Done() bool {
	return s == StatusCompleted || s == StatusSkipped || s == StatusFailed
}

// Job tracks the processing of a single page.
type Job struct {
	mu sync.Mutex

	ID    string `json:"job_id"`
	Seq   int    `json:"seq"` // position in the batch
	URL   string `json:"url"`
	RunID string `json:"run_id"`

	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	URLFinal string    `json:"url_final,omitempty"`
	Title    string    `json:"title,omitempty"`

	Progress Progress `json:"progress"`

	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	artifacts []string
	errors    []string
}

// Progress tracks what a page produced.
type Progress struct {
	Sections      int      `json:"sections"`
	Chunks        int      `json:"chunks"`
	ParseWarnings int      `json:"parse_warnings"`
	SplitWarnings int      `json:"split_warnings"`
	Errors        []string `json:"errors"`
}

func newJob(runID string, seq int, url string) *Job {
	now := time.Now()
	return &Job{
		ID:        fmt.Sprintf("%s-%d", runID, seq),
		Seq:       seq,
		URL:       url,
		RunID:     runID,
		Status:    StatusQueued,
		Phase:     "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Len returns the number of tracked jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes finished jobs older than the TTL.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		snap := job.Snapshot()
		if snap.Status.Done() && now.Sub(snap.UpdatedAt) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// SetContentHash records the hash of the raw page.
func (j *Job) SetContentHash(h string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ContentHash = h
}

// SetDocument records what the parser found.
func (j *Job) SetDocument(urlFinal, title string, sections, parseWarnings int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.URLFinal = urlFinal
	j.Title = title
	j.Progress.Sections = sections
	j.Progress.ParseWarnings = parseWarnings
	j.UpdatedAt = time.Now()
}

// SetChunks records the chunker output counts.
func (j *Job) SetChunks(chunks, splitWarnings int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.Chunks = chunks
	j.Progress.SplitWarnings = splitWarnings
	j.UpdatedAt = time.Now()
}

// AddArtifact records a file written for this page.
func (j *Job) AddArtifact(path string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.artifacts = append(j.artifacts, path)
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string    `json:"job_id"`
	Seq         int       `json:"seq"`
	URL         string    `json:"url"`
	URLFinal    string    `json:"url_final,omitempty"`
	Title       string    `json:"title,omitempty"`
	Status      JobStatus `json:"status"`
	Phase       string    `json:"phase"`
	ContentHash string    `json:"content_hash,omitempty"`
	Progress    Progress  `json:"progress"`
	Artifacts   []string  `json:"artifacts"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := append([]string{}, j.Progress.Errors...)
	return JobSnapshot{
		ID:          j.ID,
		Seq:         j.Seq,
		URL:         j.URL,
		URLFinal:    j.URLFinal,
		Title:       j.Title,
		Status:      j.Status,
		Phase:       j.Phase,
		ContentHash: j.ContentHash,
		Progress: Progress{
			Sections:      j.Progress.Sections,
			Chunks:        j.Progress.Chunks,
			ParseWarnings: j.Progress.ParseWarnings,
			SplitWarnings: j.Progress.SplitWarnings,
			Errors:        errs,
		},
		Artifacts: append([]string{}, j.artifacts...),
		UpdatedAt: j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"thema-ads-orchestrator/internal/models"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	mu        sync.Mutex
	jobs      map[string]*models.Job
	items     map[string][]*models.JobItem // by job id
	nextID    int64
	recordErr error
}

func newMemStore() *memStore {
	return &memStore{
		jobs:  make(map[string]*models.Job),
		items: make(map[string][]*models.JobItem),
	}
}

func (m *memStore) CreateJob(_ context.Context, job models.Job, items []models.JobItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := job
	m.jobs[job.ID] = &j
	for _, item := range items {
		m.nextID++
		it := item
		it.ID = m.nextID
		m.items[job.ID] = append(m.items[job.ID], &it)
	}
	return nil
}

func (m *memStore) GetJob(_ context.Context, id string) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("job %s not found", id)
	}
	return *j, nil
}

func (m *memStore) ListJobs(_ context.Context, limit int) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, *j)
	}
	return out, nil
}

func (m *memStore) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	delete(m.items, id)
	return nil
}

func (m *memStore) SetJobStatus(_ context.Context, id, status string, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	j.Status = status
	j.Error = errMsg
	return nil
}

func (m *memStore) ListItems(_ context.Context, jobID string) ([]models.JobItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.JobItem, 0, len(m.items[jobID]))
	for _, it := range m.items[jobID] {
		out = append(out, *it)
	}
	return out, nil
}

func (m *memStore) PendingItems(_ context.Context, jobID string) ([]models.JobItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.JobItem
	for _, it := range m.items[jobID] {
		if it.Status == models.ItemStatusPending {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (m *memStore) RecordItemResult(_ context.Context, itemID int64, status string, newAd, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	for jobID, items := range m.items {
		for _, it := range items {
			if it.ID != itemID {
				continue
			}
			now := time.Now()
			it.Status = status
			it.NewAdResource = newAd
			it.Error = errMsg
			it.ProcessedAt = &now
			j := m.jobs[jobID]
			j.Processed++
			switch status {
			case models.ItemStatusSuccess:
				j.Successful++
			case models.ItemStatusFailed:
				j.Failed++
			case models.ItemStatusSkipped:
				j.Skipped++
			}
			return nil
		}
	}
	return fmt.Errorf("item %d not found", itemID)
}

func (m *memStore) ResetFailedItems(_ context.Context, jobID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.items[jobID] {
		if it.Status == models.ItemStatusFailed {
			it.Status = models.ItemStatusPending
			it.Error = nil
			it.ProcessedAt = nil
			n++
		}
	}
	j := m.jobs[jobID]
	j.Processed -= n
	j.Failed -= n
	return n, nil
}

// fakeProcessor produces scripted per-target outcomes and records which ad
// groups it was asked to process.
type fakeProcessor struct {
	mu       sync.Mutex
	seen     []string // customerID/adGroupID per processed target
	outcomes map[string]models.ProcessingResult

	started chan string   // receives customerID as an account pass starts
	proceed chan struct{} // closed to release blocked passes
}

func (f *fakeProcessor) ProcessAccount(ctx context.Context, customerID string, targets []models.AdGroupTarget) []models.ProcessingResult {
	if f.started != nil {
		f.started <- customerID
	}
	if f.proceed != nil {
		<-f.proceed
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ProcessingResult, 0, len(targets))
	for _, t := range targets {
		key := customerID + "/" + t.AdGroupID
		f.seen = append(f.seen, key)
		if r, ok := f.outcomes[key]; ok {
			r.CustomerID = customerID
			r.AdGroupID = t.AdGroupID
			out = append(out, r)
			continue
		}
		out = append(out, models.ProcessingResult{CustomerID: customerID, AdGroupID: t.AdGroupID, Success: true, NewAdResource: "ads/" + t.AdGroupID})
	}
	return out
}

func (f *fakeProcessor) seenKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

func targets3() []models.AdGroupTarget {
	return []models.AdGroupTarget{
		{CustomerID: "111", AdGroupID: "1"},
		{CustomerID: "111", AdGroupID: "2"},
		{CustomerID: "222", AdGroupID: "3"},
	}
}

func checkCounts(t *testing.T, job models.Job) {
	t.Helper()
	if job.Processed != job.Successful+job.Failed+job.Skipped {
		t.Fatalf("count invariant broken: %+v", job)
	}
	if job.Processed > job.Total {
		t.Fatalf("processed exceeds total: %+v", job)
	}
}

func TestCreateJobRejectsEmptyTargets(t *testing.T) {
	o := New(newMemStore(), &fakeProcessor{}, 4, zerolog.Nop())
	if _, err := o.CreateJob(context.Background(), nil, "", "singles_day"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestProcessJobMixedOutcomes(t *testing.T) {
	st := newMemStore()
	proc := &fakeProcessor{outcomes: map[string]models.ProcessingResult{
		"111/2": {Skipped: true, SkipReason: models.SkipNoExistingAd},
	}}
	o := New(st, proc, 4, zerolog.Nop())

	job, err := o.CreateJob(context.Background(), targets3(), models.SourceUpload, "singles_day")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := o.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, _ := o.GetJobStatus(context.Background(), job.ID)
	if got.Status != models.JobStatusCompleted {
		t.Fatalf("status %s", got.Status)
	}
	if got.Total != 3 || got.Successful != 2 || got.Skipped != 1 || got.Failed != 0 {
		t.Fatalf("counts: %+v", got)
	}
	checkCounts(t, got)

	items, _ := o.JobItems(context.Background(), job.ID)
	for _, it := range items {
		if it.AdGroupID == "2" {
			if it.Status != models.ItemStatusSkipped || it.Error == nil || *it.Error != models.SkipNoExistingAd {
				t.Fatalf("skip item: %+v", it)
			}
		} else if it.Status != models.ItemStatusSuccess || it.NewAdResource == nil {
			t.Fatalf("success item: %+v", it)
		}
	}
}

func TestResumeNeverReprocessesSuccessfulItems(t *testing.T) {
	st := newMemStore()
	proc := &fakeProcessor{outcomes: map[string]models.ProcessingResult{
		"222/3": {Err: errors.New("quota exhausted")},
	}}
	o := New(st, proc, 4, zerolog.Nop())

	job, _ := o.CreateJob(context.Background(), targets3(), models.SourceUpload, "singles_day")
	if err := o.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, _ := o.GetJobStatus(context.Background(), job.ID)
	if got.Successful != 2 || got.Failed != 1 {
		t.Fatalf("first pass counts: %+v", got)
	}
	checkCounts(t, got)

	// Second pass succeeds for the previously failed item.
	proc.mu.Lock()
	proc.outcomes = nil
	proc.seen = nil
	proc.mu.Unlock()

	// Completed jobs cannot be resumed; force the failure path first.
	_ = st.SetJobStatus(context.Background(), job.ID, models.JobStatusFailed, nil)
	if err := o.ResumeJob(context.Background(), job.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := o.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("re-process: %v", err)
	}

	seen := proc.seenKeys()
	if len(seen) != 1 || seen[0] != "222/3" {
		t.Fatalf("resume re-processed wrong items: %v", seen)
	}
	got, _ = o.GetJobStatus(context.Background(), job.ID)
	if got.Status != models.JobStatusCompleted || got.Successful != 3 || got.Failed != 0 {
		t.Fatalf("after resume: %+v", got)
	}
	checkCounts(t, got)
}

func TestPauseStopsNewAccountsButFinishesInFlight(t *testing.T) {
	st := newMemStore()
	proc := &fakeProcessor{
		started: make(chan string, 3),
		proceed: make(chan struct{}),
	}
	o := New(st, proc, 2, zerolog.Nop())

	targets := []models.AdGroupTarget{
		{CustomerID: "111", AdGroupID: "1"},
		{CustomerID: "222", AdGroupID: "2"},
		{CustomerID: "333", AdGroupID: "3"},
	}
	job, _ := o.CreateJob(context.Background(), targets, models.SourceUpload, "singles_day")

	done := make(chan error, 1)
	go func() { done <- o.ProcessJob(context.Background(), job.ID) }()

	// Two accounts in flight, the third blocked on the limiter.
	first := <-proc.started
	second := <-proc.started
	if first == second {
		t.Fatalf("expected two distinct accounts, got %s twice", first)
	}

	if err := o.PauseJob(context.Background(), job.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	close(proc.proceed)

	if err := <-done; err != nil {
		t.Fatalf("process: %v", err)
	}

	got, _ := o.GetJobStatus(context.Background(), job.ID)
	if got.Status != models.JobStatusPaused {
		t.Fatalf("status %s", got.Status)
	}
	// The two in-flight accounts ran to completion, the third never started.
	if got.Processed != 2 || got.Successful != 2 {
		t.Fatalf("counts after pause: %+v", got)
	}
	checkCounts(t, got)
	for _, key := range proc.seenKeys() {
		if key == "333/3" {
			t.Fatal("paused job dispatched a new account")
		}
	}

	// Resume finishes the remaining account.
	if err := o.ResumeJob(context.Background(), job.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := o.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("re-process: %v", err)
	}
	got, _ = o.GetJobStatus(context.Background(), job.ID)
	if got.Status != models.JobStatusCompleted || got.Processed != 3 {
		t.Fatalf("after resume: %+v", got)
	}
}

func TestStoreFailureMarksJobFailed(t *testing.T) {
	st := newMemStore()
	o := New(st, &fakeProcessor{}, 2, zerolog.Nop())

	job, _ := o.CreateJob(context.Background(), targets3(), models.SourceUpload, "singles_day")
	st.mu.Lock()
	st.recordErr = errors.New("store unavailable")
	st.mu.Unlock()

	if err := o.ProcessJob(context.Background(), job.ID); err == nil {
		t.Fatal("expected error")
	}
	st.mu.Lock()
	st.recordErr = nil
	st.mu.Unlock()

	got, _ := o.GetJobStatus(context.Background(), job.ID)
	if got.Status != models.JobStatusFailed || got.Error == nil {
		t.Fatalf("job not failed: %+v", got)
	}
	// Item-level state is intact for resume: nothing was recorded.
	pending, _ := st.PendingItems(context.Background(), job.ID)
	if len(pending) != 3 {
		t.Fatalf("items lost: %d pending", len(pending))
	}
}

func TestDeleteRefusedWhileRunning(t *testing.T) {
	st := newMemStore()
	o := New(st, &fakeProcessor{}, 2, zerolog.Nop())

	job, _ := o.CreateJob(context.Background(), targets3(), models.SourceUpload, "singles_day")
	_ = st.SetJobStatus(context.Background(), job.ID, models.JobStatusRunning, nil)

	if err := o.DeleteJob(context.Background(), job.ID); !errors.Is(err, ErrJobRunning) {
		t.Fatalf("expected ErrJobRunning, got %v", err)
	}

	_ = st.SetJobStatus(context.Background(), job.ID, models.JobStatusCompleted, nil)
	if err := o.DeleteJob(context.Background(), job.ID); err != nil {
		t.Fatalf("delete completed job: %v", err)
	}
}

func TestPauseRejectedWhenNotRunning(t *testing.T) {
	st := newMemStore()
	o := New(st, &fakeProcessor{}, 2, zerolog.Nop())
	job, _ := o.CreateJob(context.Background(), targets3(), models.SourceUpload, "singles_day")
	if err := o.PauseJob(context.Background(), job.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

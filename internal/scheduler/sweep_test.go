package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/db"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/model"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/monitor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingLister struct{}

func (failingLister) ListByStatus(context.Context, model.StudyStatus) ([]*model.Study, error) {
	return nil, fmt.Errorf("database unavailable")
}

func seedStudies(t *testing.T, repo db.Repository, statuses map[string]model.StudyStatus) {
	t.Helper()
	now := time.Now().UTC()
	for id, status := range statuses {
		require.NoError(t, repo.Create(context.Background(), &model.Study{
			StudyID:        id,
			SubmitterID:    "P001",
			SubmittedAt:    now,
			SourceLocation: "uploads/" + id + "/a.dcm",
			JobID:          "job-" + id,
			Status:         status,
			UpdatedAt:      now,
		}))
	}
}

func TestSweep_QueueResumesOnlyImporting(t *testing.T) {
	repo := db.NewMemoryRepository()
	seedStudies(t, repo, map[string]model.StudyStatus{
		"STUDY-1": model.StudyStatusImporting,
		"STUDY-2": model.StudyStatusImporting,
		"STUDY-3": model.StudyStatusReadyForAnalysis,
		"STUDY-4": model.StudyStatusFailed,
	})
	q := &fakeQueue{tasks: []model.PollTask{{StudyID: "STUDY-2", TransientStreak: 3}}}
	s := New(context.Background(), monitor.New(repo, &fakeJobs{}, time.Second), fastPolicy, q)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	resumed, err := s.Sweep(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	require.Len(t, q.tasks, 2)
	assert.Equal(t, model.PollTask{StudyID: "STUDY-2", TransientStreak: 3}, q.tasks[0])
	assert.Equal(t, model.PollTask{StudyID: "STUDY-1", NotBefore: fixed}, q.tasks[1])

	// A second sweep finds both chains pending.
	resumed, err = s.Sweep(context.Background(), repo)
	require.NoError(t, err)
	assert.Zero(t, resumed)
	assert.Len(t, q.tasks, 2)
}

func TestSweep_ListError(t *testing.T) {
	q := &fakeQueue{}
	s := New(context.Background(), monitor.New(db.NewMemoryRepository(), &fakeJobs{}, time.Second), fastPolicy, q)

	_, err := s.Sweep(context.Background(), failingLister{})
	assert.Error(t, err)
	assert.Empty(t, q.tasks)
}

func TestSweep_QueueError(t *testing.T) {
	repo := db.NewMemoryRepository()
	seedStudies(t, repo, map[string]model.StudyStatus{"STUDY-1": model.StudyStatusImporting})
	q := &fakeQueue{err: fmt.Errorf("redis down")}
	s := New(context.Background(), monitor.New(repo, &fakeJobs{}, time.Second), fastPolicy, q)

	resumed, err := s.Sweep(context.Background(), repo)
	assert.Error(t, err)
	assert.Zero(t, resumed)
}

func TestSweep_InProcessDrivesOrphanToTerminal(t *testing.T) {
	repo := db.NewMemoryRepository()
	seedStudies(t, repo, map[string]model.StudyStatus{
		"STUDY-1": model.StudyStatusImporting,
		"STUDY-2": model.StudyStatusReadyForAnalysis,
	})
	jobs := &fakeJobs{StatusFunc: func(int) (*model.JobStatus, error) {
		return &model.JobStatus{State: model.JobStateSucceeded, ResultReference: "IMG-1", ExternalStatus: "COMPLETED"}, nil
	}}
	s := New(context.Background(), monitor.New(repo, jobs, time.Second), fastPolicy, nil)

	resumed, err := s.Sweep(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)
	s.Wait()

	stored, err := repo.Get(context.Background(), "STUDY-1")
	require.NoError(t, err)
	assert.Equal(t, model.StudyStatusReadyForAnalysis, stored.Status)
	assert.Equal(t, "IMG-1", stored.ResultReference)
	assert.Equal(t, 1, jobs.calls)
}

func TestResume_InProcessSkipsRunningStudy(t *testing.T) {
	repo := db.NewMemoryRepository()
	newStudy(t, repo, time.Now().UTC())
	release := make(chan struct{})
	jobs := &fakeJobs{StatusFunc: func(call int) (*model.JobStatus, error) {
		if call == 1 {
			<-release
		}
		return &model.JobStatus{State: model.JobStateFailed, Reason: "bad input"}, nil
	}}
	s := New(context.Background(), monitor.New(repo, jobs, time.Second), fastPolicy, nil)

	require.NoError(t, s.SchedulePoll(context.Background(), "STUDY-1"))
	ok, err := s.Resume(context.Background(), "STUDY-1")
	require.NoError(t, err)
	assert.False(t, ok)

	close(release)
	s.Wait()

	stored, _ := repo.Get(context.Background(), "STUDY-1")
	assert.Equal(t, model.StudyStatusFailed, stored.Status)
	assert.Equal(t, 1, jobs.calls)
}

func TestRunSweeps_StopsWithContext(t *testing.T) {
	repo := db.NewMemoryRepository()
	seedStudies(t, repo, map[string]model.StudyStatus{"STUDY-1": model.StudyStatusImporting})
	q := &fakeQueue{}
	s := New(context.Background(), monitor.New(repo, &fakeJobs{}, time.Second), fastPolicy, q)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunSweeps(ctx, repo, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.tasks) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunSweeps did not return after cancel")
	}
	assert.Len(t, q.tasks, 1)
}

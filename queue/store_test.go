package queue

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/granary/errors"
	grtest "github.com/corvid-labs/granary/internal/testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(grtest.CreateTestDB(t), nil, nil)
}

func mustCreateJob(t *testing.T, store *Store, kind JobKind, source string, priority int) *Job {
	t.Helper()
	job, err := NewJob(kind, source, priority, map[string]string{"source": source})
	require.NoError(t, err)
	require.NoError(t, store.CreateJob(job))
	return job
}

func mustCreateRun(t *testing.T, store *Store, source string) *CollectionRun {
	t.Helper()
	run := NewCollectionRun(source)
	require.NoError(t, store.CreateCollectionRun(run))
	return run
}

func TestCreateAndGetJob(t *testing.T) {
	store := newTestStore(t)

	created := mustCreateJob(t, store, KindCollectSource, "github", 10)

	got, err := store.GetJob(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, KindCollectSource, got.Kind)
	assert.Equal(t, JobStatusPending, got.Status)
	assert.Equal(t, 10, got.Priority)
	assert.Equal(t, "github", got.Source)
	assert.Equal(t, DefaultMaxRetries, got.MaxRetries)
	assert.JSONEq(t, `{"source":"github"}`, string(got.Payload))
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
}

func TestGetJobNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetJob("no-such-job")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestNewJobRejectsUnknownKind(t *testing.T) {
	_, err := NewJob(JobKind("frobnicate"), "github", 0, nil)
	require.Error(t, err)
}

func TestGetNextJobsOrdering(t *testing.T) {
	store := newTestStore(t)

	low := mustCreateJob(t, store, KindProcessItem, "github", 200)
	high := mustCreateJob(t, store, KindProcessItem, "github", 10)
	mid := mustCreateJob(t, store, KindProcessItem, "github", 100)

	jobs, err := store.GetNextJobs(10)
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	// Lower priority value runs first
	assert.Equal(t, high.ID, jobs[0].ID)
	assert.Equal(t, mid.ID, jobs[1].ID)
	assert.Equal(t, low.ID, jobs[2].ID)

	for _, j := range jobs {
		assert.Equal(t, JobStatusRunning, j.Status)
		assert.NotNil(t, j.StartedAt)
	}

	// The claimed jobs are gone from the pending pool
	again, err := store.GetNextJobs(10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestGetNextJobsTiesBreakByCreatedAt(t *testing.T) {
	store := newTestStore(t)

	first, err := NewJob(KindProcessItem, "github", 50, nil)
	require.NoError(t, err)
	second, err := NewJob(KindProcessItem, "github", 50, nil)
	require.NoError(t, err)
	second.CreatedAt = first.CreatedAt.Add(time.Second)

	require.NoError(t, store.CreateJob(second))
	require.NoError(t, store.CreateJob(first))

	jobs, err := store.GetNextJobs(2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, first.ID, jobs[0].ID)
	assert.Equal(t, second.ID, jobs[1].ID)
}

func TestGetNextJobsRecoversStaleRunning(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()
	store.timeNow = func() time.Time { return now }

	stale := mustCreateJob(t, store, KindProcessItem, "github", 50)
	fresh := mustCreateJob(t, store, KindProcessItem, "github", 50)

	// Claim both, then age one past the stale cutoff
	claimed, err := store.GetNextJobs(2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	staleStart := now.Add(-StaleJobTimeout - time.Minute)
	_, err = store.db.Exec(
		`UPDATE jobs SET started_at = ? WHERE id = ?`, staleStart, stale.ID,
	)
	require.NoError(t, err)

	jobs, err := store.GetNextJobs(10)
	require.NoError(t, err)
	require.Len(t, jobs, 1, "only the stale job should be reclaimable")
	assert.Equal(t, stale.ID, jobs[0].ID)
	assert.Equal(t, JobStatusRunning, jobs[0].Status)

	// The recently started job is untouched
	got, err := store.GetJob(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusRunning, got.Status)
}

func TestMarkJobFailedRetriesThenFailsPermanently(t *testing.T) {
	store := newTestStore(t)

	job := mustCreateJob(t, store, KindProcessItem, "github", 50)
	bang := errors.New("provider exploded")

	for attempt := 1; attempt < DefaultMaxRetries; attempt++ {
		claimed, err := store.GetNextJobs(1)
		require.NoError(t, err)
		require.Len(t, claimed, 1)

		require.NoError(t, store.MarkJobFailed(claimed[0], bang))

		got, err := store.GetJob(job.ID)
		require.NoError(t, err)
		assert.Equal(t, JobStatusPending, got.Status, "attempt %d should re-queue", attempt)
		assert.Equal(t, attempt, got.RetryCount)
		assert.Contains(t, got.ErrorMessage, "provider exploded")
	}

	claimed, err := store.GetNextJobs(1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, store.MarkJobFailed(claimed[0], bang))

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Equal(t, DefaultMaxRetries, got.RetryCount)
	assert.NotNil(t, got.CompletedAt)
}

func TestMarkJobCompleted(t *testing.T) {
	store := newTestStore(t)

	job := mustCreateJob(t, store, KindProcessItem, "github", 50)
	claimed, err := store.GetNextJobs(1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, store.MarkJobCompleted(claimed[0]))

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestRunCompletionPolicy(t *testing.T) {
	finishRun := func(t *testing.T, outcomes []bool) RunStatus {
		t.Helper()
		store := newTestStore(t)
		run := mustCreateRun(t, store, "github")

		jobs := make([]*Job, len(outcomes))
		for i := range outcomes {
			job, err := NewRunJob(KindProcessItem, "github", 50, run.ID, nil)
			require.NoError(t, err)
			job.MaxRetries = 1 // fail permanently on first failure
			require.NoError(t, store.CreateJob(job))
			jobs[i] = job
		}

		claimed, err := store.GetNextJobs(len(outcomes))
		require.NoError(t, err)
		require.Len(t, claimed, len(outcomes))

		for i, job := range claimed {
			if outcomes[i] {
				require.NoError(t, store.MarkJobCompleted(job))
			} else {
				require.NoError(t, store.MarkJobFailed(job, errors.New("boom")))
			}
		}

		got, err := store.GetCollectionRun(run.ID)
		require.NoError(t, err)
		return got.Status
	}

	t.Run("all jobs completed", func(t *testing.T) {
		assert.Equal(t, RunStatusCompleted, finishRun(t, []bool{true, true, true}))
	})

	t.Run("partial success still completes", func(t *testing.T) {
		assert.Equal(t, RunStatusCompleted, finishRun(t, []bool{true, false, false}))
	})

	t.Run("all jobs failed", func(t *testing.T) {
		assert.Equal(t, RunStatusFailed, finishRun(t, []bool{false, false}))
	})
}

func TestRunStaysRunningWhileJobsPending(t *testing.T) {
	store := newTestStore(t)
	run := mustCreateRun(t, store, "github")

	first, err := NewRunJob(KindProcessItem, "github", 50, run.ID, nil)
	require.NoError(t, err)
	require.NoError(t, store.CreateJob(first))
	second, err := NewRunJob(KindProcessItem, "github", 50, run.ID, nil)
	require.NoError(t, err)
	require.NoError(t, store.CreateJob(second))

	claimed, err := store.GetNextJobs(1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, store.MarkJobCompleted(claimed[0]))

	got, err := store.GetCollectionRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, got.Status, "a pending sibling keeps the run open")
	assert.Nil(t, got.CompletedAt)
}

func TestRetryReopensRunCompletionWindow(t *testing.T) {
	store := newTestStore(t)
	run := mustCreateRun(t, store, "github")

	job, err := NewRunJob(KindProcessItem, "github", 50, run.ID, nil)
	require.NoError(t, err)
	require.NoError(t, store.CreateJob(job))

	claimed, err := store.GetNextJobs(1)
	require.NoError(t, err)
	require.NoError(t, store.MarkJobFailed(claimed[0], errors.New("flaky")))

	// Job went back to pending, so the run must not be finalized yet
	got, err := store.GetCollectionRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, got.Status)
}

func TestCleanupOldJobs(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()
	store.timeNow = func() time.Time { return now }

	old := mustCreateJob(t, store, KindProcessItem, "github", 50)
	recent := mustCreateJob(t, store, KindProcessItem, "github", 50)
	active := mustCreateJob(t, store, KindProcessItem, "github", 50)

	claimed, err := store.GetNextJobs(2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	for _, j := range claimed {
		require.NoError(t, store.MarkJobCompleted(j))
	}

	ancient := now.Add(-10 * 24 * time.Hour)
	_, err = store.db.Exec(`UPDATE jobs SET completed_at = ? WHERE id = ?`, ancient, old.ID)
	require.NoError(t, err)

	removed, err := store.CleanupOldJobs(7 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.GetJob(old.ID)
	assert.Error(t, err)
	_, err = store.GetJob(recent.ID)
	assert.NoError(t, err)
	_, err = store.GetJob(active.ID)
	assert.NoError(t, err)
}

func TestFindActiveJobBySourceAndKind(t *testing.T) {
	store := newTestStore(t)

	t.Run("returns nil when nothing active", func(t *testing.T) {
		job, err := store.FindActiveJobBySourceAndKind("github", KindCollectSource)
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	created := mustCreateJob(t, store, KindCollectSource, "github", 10)

	t.Run("finds a pending job", func(t *testing.T) {
		job, err := store.FindActiveJobBySourceAndKind("github", KindCollectSource)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, created.ID, job.ID)
	})

	t.Run("ignores other sources and kinds", func(t *testing.T) {
		job, err := store.FindActiveJobBySourceAndKind("forum", KindCollectSource)
		require.NoError(t, err)
		assert.Nil(t, job)

		job, err = store.FindActiveJobBySourceAndKind("github", KindProcessItem)
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("ignores terminal jobs", func(t *testing.T) {
		claimed, err := store.GetNextJobs(1)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		require.NoError(t, store.MarkJobCompleted(claimed[0]))

		job, err := store.FindActiveJobBySourceAndKind("github", KindCollectSource)
		require.NoError(t, err)
		assert.Nil(t, job)
	})
}

func TestCreateWorkItemsChunked(t *testing.T) {
	store := newTestStore(t)
	run := mustCreateRun(t, store, "github")

	// More items than a single insert statement can bind
	total := workItemInsertChunk*2 + 7
	items := make([]*WorkItem, total)
	for i := range items {
		data, _ := json.Marshal(map[string]int{"n": i})
		items[i] = NewWorkItem(run.ID, ItemTypeGitHubIssue, fmt.Sprintf("issue-%d", i), data)
	}

	require.NoError(t, store.CreateWorkItems(items))

	counts, err := store.CountWorkItemsByStatus(run.ID)
	require.NoError(t, err)
	assert.Equal(t, total, counts[WorkItemPending])
}

func TestWorkItemTransitions(t *testing.T) {
	store := newTestStore(t)
	run := mustCreateRun(t, store, "github")

	item := NewWorkItem(run.ID, ItemTypeForumPost, "post-1", json.RawMessage(`{"title":"hello"}`))
	require.NoError(t, store.CreateWorkItems([]*WorkItem{item}))

	require.NoError(t, store.MarkWorkItemProcessing(item.ID))
	got, err := store.GetWorkItem(item.ID)
	require.NoError(t, err)
	assert.Equal(t, WorkItemProcessing, got.Status)

	require.NoError(t, store.MarkWorkItemCompleted(item.ID, json.RawMessage(`{"summary":"hi"}`)))
	got, err = store.GetWorkItem(item.ID)
	require.NoError(t, err)
	assert.Equal(t, WorkItemCompleted, got.Status)
	assert.JSONEq(t, `{"summary":"hi"}`, string(got.ProcessedData))
	assert.NotNil(t, got.ProcessedAt)
}

func TestWorkItemSkippedAndFailed(t *testing.T) {
	store := newTestStore(t)
	run := mustCreateRun(t, store, "github")

	skipped := NewWorkItem(run.ID, ItemTypeForumPost, "post-1", nil)
	failed := NewWorkItem(run.ID, ItemTypeForumPost, "post-2", nil)
	require.NoError(t, store.CreateWorkItems([]*WorkItem{skipped, failed}))

	require.NoError(t, store.MarkWorkItemSkipped(skipped.ID, "no substantive content"))
	require.NoError(t, store.MarkWorkItemFailed(failed.ID, errors.New("fetch timed out")))

	got, err := store.GetWorkItem(skipped.ID)
	require.NoError(t, err)
	assert.Equal(t, WorkItemSkipped, got.Status)
	assert.Equal(t, "no substantive content", got.ErrorMessage)

	got, err = store.GetWorkItem(failed.ID)
	require.NoError(t, err)
	assert.Equal(t, WorkItemFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Contains(t, got.ErrorMessage, "timed out")
}

func TestMarkRunCancelledCancelsOutstandingItems(t *testing.T) {
	store := newTestStore(t)
	run := mustCreateRun(t, store, "github")

	pending := NewWorkItem(run.ID, ItemTypeGitHubIssue, "issue-1", nil)
	done := NewWorkItem(run.ID, ItemTypeGitHubIssue, "issue-2", nil)
	require.NoError(t, store.CreateWorkItems([]*WorkItem{pending, done}))
	require.NoError(t, store.MarkWorkItemCompleted(done.ID, nil))

	require.NoError(t, store.MarkRunCancelled(run.ID, "operator requested stop"))

	gotRun, err := store.GetCollectionRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCancelled, gotRun.Status)
	assert.Equal(t, "operator requested stop", gotRun.ErrorMessage)

	gotItem, err := store.GetWorkItem(pending.ID)
	require.NoError(t, err)
	assert.Equal(t, WorkItemCancelled, gotItem.Status)

	gotItem, err = store.GetWorkItem(done.ID)
	require.NoError(t, err)
	assert.Equal(t, WorkItemCompleted, gotItem.Status, "finished items keep their status")
}

func TestRunProgressAndCounts(t *testing.T) {
	store := newTestStore(t)
	run := mustCreateRun(t, store, "forum")

	require.NoError(t, store.UpdateRunProgress(run.ID, "collecting", "fetched 40 of 120 posts"))
	require.NoError(t, store.SetRunTotalEstimated(run.ID, 120))
	require.NoError(t, store.AddRunCounts(run.ID, 40, 0))
	require.NoError(t, store.AddRunCounts(run.ID, 0, 12))

	got, err := store.GetCollectionRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "collecting", got.CurrentPhase)
	assert.Equal(t, "fetched 40 of 120 posts", got.ProgressMessage)
	assert.Equal(t, 120, got.TotalEstimated)
	assert.Equal(t, 40, got.DocumentsCollected)
	assert.Equal(t, 12, got.DocumentsProcessed)
}

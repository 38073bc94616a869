package daemon

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state", "daemon.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEnqueueUniqueDeduplicatesByKey(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()

	id1, created, err := store.EnqueueUnique(JobIncidentRun, "a.yaml@1", now, map[string]any{"n": 1})
	if err != nil || !created {
		t.Fatalf("first enqueue: id=%s created=%v err=%v", id1, created, err)
	}
	id2, created, err := store.EnqueueUnique(JobIncidentRun, "a.yaml@1", now.Add(time.Minute), map[string]any{"n": 2})
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if created || id2 != id1 {
		t.Fatalf("expected existing job %s, got %s (created=%v)", id1, id2, created)
	}
	if _, created, _ := store.EnqueueUnique(JobIncidentRun, "a.yaml@2", now, nil); !created {
		t.Fatal("expected a new job for a new key")
	}
	if _, created, _ := store.EnqueueUnique(JobInboxScan, "a.yaml@1", now, nil); !created {
		t.Fatal("expected keys to be scoped by job type")
	}
	if _, _, err := store.EnqueueUnique(JobInboxScan, "", now, nil); err == nil {
		t.Fatal("expected an error for an empty key")
	}
}

func TestClaimNextOrderAndLease(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	late, _, _ := store.EnqueueUnique(JobInboxScan, "late", base.Add(2*time.Second), nil)
	early, _, _ := store.EnqueueUnique(JobInboxScan, "early", base.Add(500*time.Millisecond), nil)
	future, _, _ := store.EnqueueUnique(JobInboxScan, "future", base.Add(time.Hour), nil)

	now := base.Add(3 * time.Second)
	job, err := store.ClaimNext(now, "owner-1", time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil || job.ID != early {
		t.Fatalf("expected %s first, got %+v", early, job)
	}
	if job.Status != StatusRunning || job.LeaseOwner != "owner-1" {
		t.Fatalf("unexpected claimed job state: %+v", job)
	}
	if job.LeaseExpiresAt == nil || !job.LeaseExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected lease expiry: %v", job.LeaseExpiresAt)
	}

	job, _ = store.ClaimNext(now, "owner-1", time.Minute)
	if job == nil || job.ID != late {
		t.Fatalf("expected %s second, got %+v", late, job)
	}
	job, err = store.ClaimNext(now, "owner-1", time.Minute)
	if err != nil || job != nil {
		t.Fatalf("expected nothing due before %s, got %+v err=%v", future, job, err)
	}
}

func TestRequeueExpired(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()
	id, _, _ := store.EnqueueUnique(JobIncidentRun, "x", now, nil)
	if _, err := store.ClaimNext(now, "crashed", time.Second); err != nil {
		t.Fatalf("claim: %v", err)
	}

	n, err := store.RequeueExpired(now)
	if err != nil || n != 0 {
		t.Fatalf("lease still valid: n=%d err=%v", n, err)
	}
	n, err = store.RequeueExpired(now.Add(2 * time.Second))
	if err != nil || n != 1 {
		t.Fatalf("expected one requeued job: n=%d err=%v", n, err)
	}
	job, err := store.GetJob(id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != StatusQueued || job.LeaseOwner != "" {
		t.Fatalf("expected queued job without owner, got %+v", job)
	}
}

func TestSucceedFailAndListings(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()
	ok, _, _ := store.EnqueueUnique(JobInboxScan, "ok", now, nil)
	bad, _, _ := store.EnqueueUnique(JobInboxScan, "bad", now.Add(time.Millisecond), nil)
	store.EnqueueUnique(JobInboxScan, "waiting", now.Add(time.Hour), nil)

	for i := 0; i < 2; i++ {
		if _, err := store.ClaimNext(now.Add(time.Second), "owner", time.Minute); err != nil {
			t.Fatalf("claim: %v", err)
		}
	}
	running, err := store.ListRunning()
	if err != nil || len(running) != 2 {
		t.Fatalf("expected two running jobs, got %d (err=%v)", len(running), err)
	}

	if err := store.Succeed(ok, map[string]any{"status": "no_changes"}); err != nil {
		t.Fatalf("succeed: %v", err)
	}
	if err := store.Fail(bad, errors.New("boom")); err != nil {
		t.Fatalf("fail: %v", err)
	}

	job, _ := store.GetJob(bad)
	if job.Status != StatusFailed || job.ResultJSON != `{"error":"boom"}` || job.FinishedAt == nil {
		t.Fatalf("unexpected failed job: %+v", job)
	}
	completed, err := store.ListRecentCompleted(10)
	if err != nil || len(completed) != 2 {
		t.Fatalf("expected two completed jobs, got %d (err=%v)", len(completed), err)
	}
	queued, err := store.ListQueued(10)
	if err != nil || len(queued) != 1 || queued[0].Key != "waiting" {
		t.Fatalf("unexpected queue: %+v (err=%v)", queued, err)
	}
	if _, err := store.GetJob("missing"); err == nil {
		t.Fatal("expected an error for an unknown job")
	}
}

func TestRunsAndKV(t *testing.T) {
	store := openTestStore(t)

	if run, err := store.LastRun(); err != nil || run != nil {
		t.Fatalf("expected no runs yet, got %+v err=%v", run, err)
	}
	start := time.Now()
	id, err := store.StartRun("owner", start)
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := store.FinishRun(id, start.Add(time.Minute), nil); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	run, err := store.LastRun()
	if err != nil || run == nil {
		t.Fatalf("last run: %+v err=%v", run, err)
	}
	if run.ID != id || run.Status != "stopped" || run.FinishedAt == nil {
		t.Fatalf("unexpected run: %+v", run)
	}

	if v, err := store.GetKV("missing"); err != nil || v != "" {
		t.Fatalf("missing key: %q err=%v", v, err)
	}
	if err := store.SetKV("k", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	store.SetKV("k", "v2")
	if v, _ := store.GetKV("k"); v != "v2" {
		t.Fatalf("expected overwrite, got %q", v)
	}
}

func TestSchedulerTick(t *testing.T) {
	store := openTestStore(t)
	s, err := NewScheduler(store, 10*time.Second)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	if _, err := NewScheduler(store, 0); err == nil {
		t.Fatal("expected an error for a zero interval")
	}

	base := time.Date(2026, 3, 1, 12, 0, 3, 0, time.UTC)
	if err := s.Tick(base); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	assertQueued(t, store, 1)

	// Same window: nothing new.
	if err := s.Tick(base.Add(5 * time.Second)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	assertQueued(t, store, 1)

	// Crosses 12:00:10 and 12:00:20; only the latest is scheduled.
	if err := s.Tick(base.Add(18 * time.Second)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	assertQueued(t, store, 2)

	if err := s.Tick(base.Add(time.Hour)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	assertQueued(t, store, 3)
}

func assertQueued(t *testing.T, store *Store, want int) {
	t.Helper()
	queued, err := store.ListQueued(100)
	if err != nil {
		t.Fatalf("list queued: %v", err)
	}
	if len(queued) != want {
		t.Fatalf("expected %d queued scans, got %d", want, len(queued))
	}
}

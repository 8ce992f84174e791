package status

import (
	"fmt"
	"testing"
	"time"

	"horse.fit/newsai/internal/globaltime"
)

func TestReporterRingBufferKeepsNewestEntries(t *testing.T) {
	t.Parallel()

	reporter := NewReporter(3)
	for i := 0; i < 5; i++ {
		id := reporter.RecordError("a", "http://a", "http_503", fmt.Sprintf("boom %d", i))
		if id == "" {
			t.Fatalf("expected request id")
		}
	}

	snap := reporter.Snapshot()
	if snap.ErrorsTotal != 5 {
		t.Fatalf("unexpected errors total: got %d want 5", snap.ErrorsTotal)
	}
	if len(snap.RecentErrors) != 3 {
		t.Fatalf("unexpected ring length: got %d want 3", len(snap.RecentErrors))
	}
	for i, want := range []string{"boom 4", "boom 3", "boom 2"} {
		if snap.RecentErrors[i].Message != want {
			t.Fatalf("entry %d: got %q want %q", i, snap.RecentErrors[i].Message, want)
		}
	}
	if snap.RecentErrors[0].RequestID == snap.RecentErrors[1].RequestID {
		t.Fatalf("expected distinct request ids")
	}
}

func TestReporterTopCodesAndProviderHealth(t *testing.T) {
	t.Parallel()

	reporter := NewReporter(10)
	reporter.RecordRequest("a", "http://a")
	reporter.RecordError("a", "http://a", "timeout", "slow")
	reporter.RecordRequest("a", "http://a")
	reporter.RecordError("a", "http://a", "timeout", "slow")
	reporter.RecordRequest("b", "http://b")
	reporter.RecordError("b", "http://b", "http_429", "busy")
	reporter.RecordRequest("b", "http://b")
	reporter.RecordSuccess("b", "http://b")
	reporter.SetBacklog(12)

	snap := reporter.Snapshot()
	if len(snap.TopErrorCodes) != 2 || snap.TopErrorCodes[0].Key != "timeout" || snap.TopErrorCodes[0].Count != 2 {
		t.Fatalf("unexpected top codes: %+v", snap.TopErrorCodes)
	}
	if snap.TopEndpoints[0].Key != "http://a" {
		t.Fatalf("unexpected top endpoints: %+v", snap.TopEndpoints)
	}
	if snap.Backlog != 12 {
		t.Fatalf("unexpected backlog: got %d want 12", snap.Backlog)
	}
	if len(snap.Providers) != 2 {
		t.Fatalf("unexpected provider count: %d", len(snap.Providers))
	}
	b := snap.Providers[1]
	if b.Name != "b" || b.Requests != 2 || b.Successes != 1 || b.Failures != 1 || b.LastSuccessAt == nil {
		t.Fatalf("unexpected provider b health: %+v", b)
	}
}

func TestReporterSnapshotIsACopy(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	globaltime.SetMockTime(fixed)
	defer globaltime.ResetTime()

	reporter := NewReporter(2)
	reporter.RecordSuccess("a", "")
	snap := reporter.Snapshot()
	*snap.Providers[0].LastSuccessAt = fixed.Add(time.Hour)

	again := reporter.Snapshot()
	if !again.Providers[0].LastSuccessAt.Equal(fixed) {
		t.Fatalf("snapshot mutation leaked into reporter: %v", again.Providers[0].LastSuccessAt)
	}

	reporter.Reset()
	if snap := reporter.Snapshot(); len(snap.Providers) != 0 || snap.ErrorsTotal != 0 {
		t.Fatalf("expected empty snapshot after reset: %+v", snap)
	}
}

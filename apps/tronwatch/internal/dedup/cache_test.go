package dedup

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(capacity int) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New("test", 5*time.Minute, capacity, WithClock(clock.Now)), clock
}

func TestSeenWithinRetention(t *testing.T) {
	cache, clock := newTestCache(10)

	if cache.Seen("tx1") {
		t.Fatal("unmarked id reported as seen")
	}
	cache.Mark("tx1")

	tests := []struct {
		name    string
		advance time.Duration
		want    bool
	}{
		{"immediately", 0, true},
		{"just inside window", 5*time.Minute - time.Second, true},
		{"at window edge", time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock.Advance(tt.advance)
			if got := cache.Seen("tx1"); got != tt.want {
				t.Errorf("Seen() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	cache, clock := newTestCache(10)

	cache.Mark("old1")
	cache.Mark("old2")
	clock.Advance(3 * time.Minute)
	cache.Mark("fresh")
	clock.Advance(3 * time.Minute)

	if removed := cache.Sweep(); removed != 2 {
		t.Errorf("Sweep() removed %d, want 2", removed)
	}
	if cache.Len() != 1 || !cache.Seen("fresh") {
		t.Errorf("expected only fresh to remain, len=%d", cache.Len())
	}
	if removed := cache.Sweep(); removed != 0 {
		t.Errorf("second Sweep() removed %d, want 0", removed)
	}
}

func TestMarkRefreshesWindow(t *testing.T) {
	cache, clock := newTestCache(10)

	cache.Mark("a")
	cache.Mark("b")
	clock.Advance(4 * time.Minute)
	cache.Mark("a")
	clock.Advance(2 * time.Minute)

	cache.Sweep()
	if !cache.Seen("a") {
		t.Error("refreshed id should survive sweep")
	}
	if cache.Seen("b") {
		t.Error("stale id should be swept")
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	cache, _ := newTestCache(2)

	cache.Mark("a")
	cache.Mark("b")
	cache.Mark("c")

	if cache.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", cache.Len())
	}
	if cache.Seen("a") {
		t.Error("oldest id should be evicted at capacity")
	}
	if !cache.Seen("b") || !cache.Seen("c") {
		t.Error("newer ids should be kept")
	}
}

func TestSeparateCachesAreIndependent(t *testing.T) {
	address, _ := newTestCache(10)
	payment, _ := newTestCache(10)

	address.Mark("tx1")
	if payment.Seen("tx1") {
		t.Error("payment cache should not see ids marked in the address cache")
	}
}

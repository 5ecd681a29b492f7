package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Zokiio/ovc-sub005/internal/codec"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stubPipeline() (*codec.Pipeline, error) {
	return &codec.Pipeline{}, nil
}

func testAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry(testLogger(), stubPipeline)
	id := uuid.New()

	sess, err := r.Register(id, testAddr(5000), "steve")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if sess.ID != id {
		t.Errorf("session ID = %s, want %s", sess.ID, id)
	}
	if sess.Username() != "steve" {
		t.Errorf("username = %q, want %q", sess.Username(), "steve")
	}
	if sess.Pipeline == nil {
		t.Error("session created without a codec pipeline")
	}

	got, ok := r.Lookup(id)
	if !ok || got != sess {
		t.Error("Lookup did not return the registered session")
	}
	if !r.Has(id) || r.Len() != 1 {
		t.Errorf("Has=%v Len=%d after one registration", r.Has(id), r.Len())
	}
}

func TestLookupUnknown(t *testing.T) {
	r := NewRegistry(testLogger(), stubPipeline)
	if _, ok := r.Lookup(uuid.New()); ok {
		t.Error("Lookup returned a session for an unknown identifier")
	}
	if r.Touch(uuid.New()) {
		t.Error("Touch reported success for an unknown identifier")
	}
}

func TestReRegisterRefreshes(t *testing.T) {
	r := NewRegistry(testLogger(), stubPipeline)
	id := uuid.New()

	first, err := r.Register(id, testAddr(5000), "steve")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	second, err := r.Register(id, testAddr(6000), "steve2")
	if err != nil {
		t.Fatalf("re-Register failed: %v", err)
	}

	if first != second {
		t.Error("re-registration created a duplicate session")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d after re-registration, want 1", r.Len())
	}
	if got := second.Addr().Port; got != 6000 {
		t.Errorf("addr port = %d, want refreshed 6000", got)
	}
	if got := second.Username(); got != "steve2" {
		t.Errorf("username = %q, want refreshed %q", got, "steve2")
	}
	// Decoder state survives the refresh; the pipeline is not rebuilt.
	if first.Pipeline != second.Pipeline {
		t.Error("re-registration replaced the codec pipeline")
	}
}

func TestRegisterPipelineError(t *testing.T) {
	wantErr := errors.New("opus init failed")
	r := NewRegistry(testLogger(), func() (*codec.Pipeline, error) {
		return nil, wantErr
	})

	if _, err := r.Register(uuid.New(), testAddr(5000), "steve"); !errors.Is(err, wantErr) {
		t.Errorf("Register error = %v, want wrapped %v", err, wantErr)
	}
	if r.Len() != 0 {
		t.Error("failed registration left a session behind")
	}
}

func TestRemove(t *testing.T) {
	r := NewRegistry(testLogger(), stubPipeline)
	id := uuid.New()
	sess, _ := r.Register(id, testAddr(5000), "steve")

	got, ok := r.Remove(id)
	if !ok || got != sess {
		t.Error("Remove did not return the session")
	}
	if r.Has(id) {
		t.Error("session still present after Remove")
	}
	if _, ok := r.Remove(id); ok {
		t.Error("second Remove reported success")
	}
}

func TestSweepExpired(t *testing.T) {
	r := NewRegistry(testLogger(), stubPipeline)
	idleID := uuid.New()
	liveID := uuid.New()

	idle, _ := r.Register(idleID, testAddr(5000), "idle")
	r.Register(liveID, testAddr(5001), "live")

	idle.Touch(time.Now().Add(-2 * time.Minute))

	evicted := r.SweepExpired(time.Minute)
	if len(evicted) != 1 || evicted[0].ID != idleID {
		t.Fatalf("evicted %d sessions, want exactly the idle one", len(evicted))
	}
	if r.Has(idleID) {
		t.Error("idle session still resolvable after sweep")
	}
	if !r.Has(liveID) {
		t.Error("sweep removed a live session")
	}
}

func TestSweepExpiredTouchedSessionSurvives(t *testing.T) {
	r := NewRegistry(testLogger(), stubPipeline)
	id := uuid.New()
	sess, _ := r.Register(id, testAddr(5000), "steve")

	sess.Touch(time.Now().Add(-2 * time.Minute))
	r.Touch(id) // any inbound packet resets the timer

	if evicted := r.SweepExpired(time.Minute); len(evicted) != 0 {
		t.Errorf("touched session was evicted: %d", len(evicted))
	}
}

func TestSnapshot(t *testing.T) {
	r := NewRegistry(testLogger(), stubPipeline)
	want := map[uuid.UUID]bool{}
	for i := 0; i < 20; i++ {
		id := uuid.New()
		want[id] = true
		r.Register(id, testAddr(5000+i), fmt.Sprintf("user%d", i))
	}

	snap := r.Snapshot()
	if len(snap) != 20 {
		t.Fatalf("Snapshot returned %d sessions, want 20", len(snap))
	}
	for _, sess := range snap {
		if !want[sess.ID] {
			t.Errorf("Snapshot returned unknown session %s", sess.ID)
		}
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry(testLogger(), stubPipeline)
	ids := make([]uuid.UUID, 64)
	for i := range ids {
		ids[i] = uuid.New()
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			r.Register(id, testAddr(5000+i), "user")
			r.Touch(id)
			r.Lookup(id)
			if i%4 == 0 {
				r.Remove(id)
			}
		}(i, id)
	}
	wg.Wait()

	if got := r.Len(); got != 48 {
		t.Errorf("Len = %d after concurrent churn, want 48", got)
	}
}

package position

import (
	"math"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestUpdateAndGet(t *testing.T) {
	tr := NewTracker()
	id := uuid.New()

	tr.Update(id, 1.5, 64, -12.25, "overworld")

	pos, ok := tr.Get(id)
	if !ok {
		t.Fatal("Get returned no position after Update")
	}
	if pos.ClientID != id || pos.X != 1.5 || pos.Y != 64 || pos.Z != -12.25 || pos.World != "overworld" {
		t.Errorf("unexpected position: %+v", pos)
	}
	if pos.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestGetUnknown(t *testing.T) {
	tr := NewTracker()
	if _, ok := tr.Get(uuid.New()); ok {
		t.Error("Get returned a position for an unknown client")
	}
}

func TestUpdateLastWriteWins(t *testing.T) {
	tr := NewTracker()
	id := uuid.New()

	tr.Update(id, 0, 0, 0, "overworld")
	tr.Update(id, 100, 50, -30, "nether")

	pos, _ := tr.Get(id)
	if pos.X != 100 || pos.World != "nether" {
		t.Errorf("stale position survived a later update: %+v", pos)
	}
	if tr.Len() != 1 {
		t.Errorf("Len = %d, want 1", tr.Len())
	}
}

func TestRemove(t *testing.T) {
	tr := NewTracker()
	id := uuid.New()
	tr.Update(id, 1, 2, 3, "overworld")

	tr.Remove(id)
	if _, ok := tr.Get(id); ok {
		t.Error("position still present after Remove")
	}
	tr.Remove(id) // removing twice is a no-op
}

func TestPrune(t *testing.T) {
	tr := NewTracker()
	live := uuid.New()
	dead1 := uuid.New()
	dead2 := uuid.New()
	for _, id := range []uuid.UUID{live, dead1, dead2} {
		tr.Update(id, 0, 0, 0, "overworld")
	}

	removed := tr.Prune(func(id uuid.UUID) bool { return id == live })
	if removed != 2 {
		t.Errorf("Prune removed %d, want 2", removed)
	}
	if _, ok := tr.Get(live); !ok {
		t.Error("Prune dropped a live client's position")
	}
	if tr.Len() != 1 {
		t.Errorf("Len = %d after prune, want 1", tr.Len())
	}
}

func TestDistanceTo(t *testing.T) {
	tests := []struct {
		name string
		a, b Position
		want float64
	}{
		{
			name: "same point",
			a:    Position{X: 5, Y: 5, Z: 5},
			b:    Position{X: 5, Y: 5, Z: 5},
			want: 0,
		},
		{
			name: "single axis",
			a:    Position{X: 0},
			b:    Position{X: 30},
			want: 30,
		},
		{
			name: "pythagorean",
			a:    Position{X: 0, Y: 0, Z: 0},
			b:    Position{X: 3, Y: 4, Z: 0},
			want: 5,
		},
		{
			name: "three axes",
			a:    Position{X: 1, Y: 2, Z: 3},
			b:    Position{X: 4, Y: 6, Z: 15},
			want: 13,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.DistanceTo(tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("DistanceTo = %v, want %v", got, tt.want)
			}
			// Distance is symmetric.
			if got := tt.b.DistanceTo(tt.a); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("reverse DistanceTo = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConcurrentUpdates(t *testing.T) {
	tr := NewTracker()
	ids := make([]uuid.UUID, 32)
	for i := range ids {
		ids[i] = uuid.New()
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				tr.Update(id, float64(i), 0, 0, "overworld")
				tr.Get(id)
			}
		}(id)
	}
	wg.Wait()

	if tr.Len() != len(ids) {
		t.Errorf("Len = %d, want %d", tr.Len(), len(ids))
	}
	for _, id := range ids {
		pos, ok := tr.Get(id)
		if !ok || pos.X != 49 {
			t.Errorf("client %s final position = %+v", id, pos)
		}
	}
}

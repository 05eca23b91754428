package knowledge

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "knowledge.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestStoreAndGet(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	key, err := s.Store(ctx, KindObservation, Observation{
		Source:    "thermal-0",
		Payload:   []byte(`{"temp_c":91.5}`),
		Features:  []float32{0.1, 0.9, 0.3},
		Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if key == "" {
		t.Fatal("expected non-empty key")
	}

	rec, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Kind != KindObservation {
		t.Errorf("kind = %q", rec.Kind)
	}
	if rec.Payload.Source != "thermal-0" || string(rec.Payload.Payload) != `{"temp_c":91.5}` {
		t.Errorf("payload mismatch: %+v", rec.Payload)
	}
	if !rec.Payload.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", rec.Payload.Timestamp, ts)
	}
	if len(rec.Payload.Features) != 3 || rec.Payload.Features[1] != 0.9 {
		t.Errorf("features = %v", rec.Payload.Features)
	}
	if len(rec.Tags) != 0 {
		t.Errorf("expected no tags, got %v", rec.Tags)
	}
}

func TestGetUnknownKey(t *testing.T) {
	s := tempStore(t)
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTagsAreAppendOnly(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	key, _ := s.Store(ctx, KindHypothesis, Observation{Source: "gen", Payload: []byte("fan curve too flat")})

	for _, label := range []string{TagFalsified, TagVerified, TagFalsified} {
		if err := s.Tag(ctx, key, label); err != nil {
			t.Fatalf("Tag(%s): %v", label, err)
		}
	}

	rec, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(rec.Tags) != 2 {
		t.Fatalf("expected 2 distinct tags, got %v", rec.Tags)
	}
	if !rec.HasTag(TagVerified) || !rec.HasTag(TagFalsified) {
		t.Errorf("verified and falsified should coexist: %v", rec.Tags)
	}
	if rec.Tags[0] != TagFalsified {
		t.Errorf("tags should keep first-applied order, got %v", rec.Tags)
	}
}

func TestTagUnknownRecord(t *testing.T) {
	s := tempStore(t)
	err := s.Tag(context.Background(), "nope", TagVerified)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRetrieveRanksBySimilarity(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	seed, _ := s.Store(ctx, KindObservation, Observation{Source: "seed", Features: []float32{1, 0}})
	far, _ := s.Store(ctx, KindObservation, Observation{Source: "far", Features: []float32{0, 1}})
	near, _ := s.Store(ctx, KindObservation, Observation{Source: "near", Features: []float32{0.9, 0.1}})
	mid, _ := s.Store(ctx, KindObservation, Observation{Source: "mid", Features: []float32{0.5, 0.5}})
	// Other kinds never show up in observation retrieval.
	s.Store(ctx, KindHypothesis, Observation{Source: "h", Features: []float32{1, 0}})

	got, err := s.Retrieve(ctx, seed, 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	want := []string{near, mid, far}
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i, k := range want {
		if got[i].Key != k {
			t.Errorf("position %d: got %s (%s), want %s", i, got[i].Key, got[i].Payload.Source, k)
		}
	}
	if got[0].Score <= got[1].Score {
		t.Errorf("scores not descending: %v, %v", got[0].Score, got[1].Score)
	}

	top1, _ := s.Retrieve(ctx, seed, 1)
	if len(top1) != 1 || top1[0].Key != near {
		t.Errorf("top-1 = %+v", top1)
	}
}

func TestRetrieveTiesKeepInsertionOrder(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	seed, _ := s.Store(ctx, KindObservation, Observation{Source: "seed"})
	a, _ := s.Store(ctx, KindObservation, Observation{Source: "a"})
	b, _ := s.Store(ctx, KindObservation, Observation{Source: "b"})

	got, err := s.Retrieve(ctx, seed, 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 || got[0].Key != a || got[1].Key != b {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestSearchByVector(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	s.Store(ctx, KindObservation, Observation{Source: "x", Features: []float32{1, 0, 0}})
	y, _ := s.Store(ctx, KindObservation, Observation{Source: "y", Features: []float32{0, 1, 0}})

	got, err := s.Search(ctx, []float32{0, 2, 0}, "", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Key != y {
		t.Fatalf("unexpected search result: %+v", got)
	}
	if math.Abs(float64(got[0].Score)-1) > 1e-6 {
		t.Errorf("score = %f, want 1", got[0].Score)
	}
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	seed, _ := s.Store(ctx, KindObservation, Observation{Features: []float32{1, 1}})

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := s.Store(ctx, KindObservation, Observation{Features: []float32{1, 0}}); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := s.Retrieve(ctx, seed, 3); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent op: %v", err)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	original := []float32{0, -1.5, 3.25, float32(math.Pi)}
	decoded := decodeVector(encodeVector(original))
	if len(decoded) != len(original) {
		t.Fatalf("length %d, want %d", len(decoded), len(original))
	}
	for i := range original {
		if original[i] != decoded[i] {
			t.Fatalf("index %d: %f != %f", i, decoded[i], original[i])
		}
	}
	if decodeVector(nil) != nil {
		t.Error("nil blob should decode to nil")
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); math.Abs(float64(got)-1) > 1e-6 {
		t.Errorf("identical = %f", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal = %f", got)
	}
	if got := CosineSimilarity([]float32{1}, []float32{1, 2}); got != 0 {
		t.Errorf("mismatched = %f", got)
	}
	if got := CosineSimilarity(nil, nil); got != 0 {
		t.Errorf("empty = %f", got)
	}
}

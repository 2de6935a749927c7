package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"annocore/pkg/domain"
)

func seedAssembly(t *testing.T, s *Store, id, name string) {
	t.Helper()
	_, err := s.RunInTransaction(context.Background(), id, func(tx Transaction) error {
		if err := tx.PutAssembly(Assembly{Name: name}); err != nil {
			return err
		}
		return tx.PutRefSeq(domain.RefSeq{ID: id + ":chr1", Name: "chr1", Length: 10000})
	})
	if err != nil {
		t.Fatalf("seed assembly: %v", err)
	}
}

func gene(id string, min, max int64) Feature {
	return Feature{ID: id, RefSeq: "asm1:chr1", Type: "gene", Min: min, Max: max, Strand: domain.StrandPlus}
}

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	seedAssembly(t, store, "asm1", "Test")

	_, err := store.RunInTransaction(ctx, "asm1", func(tx Transaction) error {
		if _, ok := tx.Assembly(); !ok {
			t.Fatalf("expected assembly inside transaction")
		}
		tx.RecordChange(domain.ChangeRecord{TypeName: "AddFeatureChange", ChangedIDs: []string{"g1"}})
		return tx.Features().Insert("", gene("g1", 0, 100))
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	f, asm, ok := store.FindFeatureByID("g1")
	if !ok || asm != "asm1" || f.Max != 100 {
		t.Fatalf("unexpected lookup %+v %q %v", f, asm, ok)
	}
	log := store.ChangeLog("asm1")
	if len(log) != 1 || log[0].ID == "" || log[0].AssemblyID != "asm1" || log[0].At.IsZero() {
		t.Fatalf("unexpected change log %+v", log)
	}

	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	if len(store.ListAssemblies()) != 0 {
		t.Fatalf("expected cleared state")
	}
	store.ImportState(snapshot)
	if len(store.ListAssemblies()) != 1 {
		t.Fatalf("expected restored state")
	}
	if _, ok := store.FindAssemblyByName("Test"); !ok {
		t.Fatalf("expected name index restored")
	}
	if _, _, ok := store.FindFeatureByID("g1"); !ok {
		t.Fatalf("expected feature index restored")
	}
	if store.Pipeline() == nil || store.NowFunc() == nil {
		t.Fatalf("expected pipeline and clock")
	}
}

func TestStoreRollbackOnError(t *testing.T) {
	store := NewStore(nil)
	seedAssembly(t, store, "asm1", "Test")
	boom := errors.New("boom")
	_, err := store.RunInTransaction(context.Background(), "asm1", func(tx Transaction) error {
		if err := tx.Features().Insert("", gene("g1", 0, 100)); err != nil {
			return err
		}
		tx.RecordChange(domain.ChangeRecord{TypeName: "AddFeatureChange"})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, _, ok := store.FindFeatureByID("g1"); ok {
		t.Fatalf("rolled back feature must not be visible")
	}
	if len(store.ChangeLog("")) != 0 {
		t.Fatalf("rolled back change must not be logged")
	}
}

func TestStoreCancelledContextDiscardsWork(t *testing.T) {
	store := NewStore(nil)
	seedAssembly(t, store, "asm1", "Test")
	ctx, cancel := context.WithCancel(context.Background())
	_, err := store.RunInTransaction(ctx, "asm1", func(tx Transaction) error {
		cancel()
		return tx.Features().Insert("", gene("g1", 0, 100))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if _, _, ok := store.FindFeatureByID("g1"); ok {
		t.Fatalf("cancelled work must not be visible")
	}
}

func TestStoreRequiresAssemblyID(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), "", func(Transaction) error { return nil })
	if !errors.Is(err, domain.ErrMalformedChange) {
		t.Fatalf("expected malformed, got %v", err)
	}
}

func TestStoreAssemblyNamesAreUnique(t *testing.T) {
	store := NewStore(nil)
	seedAssembly(t, store, "asm1", "hg38")
	_, err := store.RunInTransaction(context.Background(), "asm2", func(tx Transaction) error {
		return tx.PutAssembly(Assembly{Name: "hg38"})
	})
	if !errors.Is(err, domain.ErrAssemblyAlreadyExists) {
		t.Fatalf("expected name clash, got %v", err)
	}
	if _, ok := store.GetAssembly("asm2"); ok {
		t.Fatalf("clashing assembly must not be created")
	}
	_, err = store.RunInTransaction(context.Background(), "asm1", func(tx Transaction) error {
		return tx.PutAssembly(Assembly{Name: "other"})
	})
	if !errors.Is(err, domain.ErrAssemblyAlreadyExists) {
		t.Fatalf("expected id clash, got %v", err)
	}
}

func TestStoreDeleteAssemblyFreesNameAndFeatures(t *testing.T) {
	store := NewStore(nil)
	seedAssembly(t, store, "asm1", "hg38")
	_, err := store.RunInTransaction(context.Background(), "asm1", func(tx Transaction) error {
		return tx.Features().Insert("", gene("g1", 0, 100))
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), "asm1", func(tx Transaction) error {
		if err := tx.DeleteAssembly(); err != nil {
			return err
		}
		if _, ok := tx.FindAssemblyByName("hg38"); ok {
			t.Fatalf("deleted assembly must not be found by name inside the transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := store.GetAssembly("asm1"); ok {
		t.Fatalf("expected assembly gone")
	}
	if _, _, ok := store.FindFeatureByID("g1"); ok {
		t.Fatalf("expected feature index cleared")
	}
	if _, err := store.Snapshot("asm1"); !errors.Is(err, domain.ErrAssemblyNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	seedAssembly(t, store, "asm2", "hg38")
}

func TestStoreCommitHookAbortsCommit(t *testing.T) {
	hookErr := errors.New("disk full")
	var seen []Commit
	fail := false
	store := NewStore(nil, WithCommitHook(func(_ context.Context, c Commit) error {
		if fail {
			return hookErr
		}
		seen = append(seen, c)
		return nil
	}))
	seedAssembly(t, store, "asm1", "hg38")
	if len(seen) != 1 || seen[0].State == nil || seen[0].AssemblyID != "asm1" {
		t.Fatalf("unexpected commits %+v", seen)
	}

	fail = true
	_, err := store.RunInTransaction(context.Background(), "asm2", func(tx Transaction) error {
		return tx.PutAssembly(Assembly{Name: "mm10"})
	})
	if !errors.Is(err, hookErr) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if _, ok := store.FindAssemblyByName("mm10"); ok {
		t.Fatalf("aborted commit must release the name")
	}
	fail = false
	seedAssembly(t, store, "asm3", "mm10")
}

type stubValidator struct {
	name string
	err  error
}

func (v stubValidator) Name() string { return v.name }

func (v stubValidator) Validate(_ context.Context, view domain.AssemblyView) ([]domain.CheckResult, error) {
	if v.err != nil {
		return nil, v.err
	}
	var out []domain.CheckResult
	for _, f := range view.Features() {
		out = append(out, domain.CheckResult{IDs: []string{f.ID}, RefSeq: f.RefSeq, Start: f.Min, End: f.Max, Message: "seen"})
	}
	return out, nil
}

func TestStorePipelineProducesCheckResults(t *testing.T) {
	pipeline := domain.NewPipeline(stubValidator{name: "Seen"}, stubValidator{name: "Broken", err: errors.New("nope")})
	store := NewStore(pipeline)
	seedAssembly(t, store, "asm1", "hg38")
	res, err := store.RunInTransaction(context.Background(), "asm1", func(tx Transaction) error {
		return tx.Features().Insert("", gene("g1", 0, 100))
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(res.CheckResults) != 1 || res.CheckResults[0].Name != "Seen" || res.CheckResults[0].ID == "" {
		t.Fatalf("unexpected check results %+v", res.CheckResults)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected failing validator warning, got %v", res.Warnings)
	}
	stored, err := store.CheckResults("asm1")
	if err != nil || len(stored) != 1 {
		t.Fatalf("expected stored check results, got %+v %v", stored, err)
	}
}

func TestStoreFiles(t *testing.T) {
	var hooked []string
	store := NewStore(nil, WithFileHook(func(_ context.Context, f domain.File) error {
		hooked = append(hooked, f.ID)
		return nil
	}))
	if err := store.PutFile(domain.File{}); !errors.Is(err, domain.ErrMalformedChange) {
		t.Fatalf("expected missing id error, got %v", err)
	}
	file := domain.File{ID: "f1", Name: "genome.fa", RefSeqs: []domain.RefSeqSummary{{Name: "chr1", Length: 10}}}
	if err := store.PutFile(file); err != nil {
		t.Fatalf("put file: %v", err)
	}
	if err := store.PutFile(file); err == nil {
		t.Fatalf("expected duplicate file error")
	}
	got, ok := store.GetFile("f1")
	if !ok || got.Name != "genome.fa" {
		t.Fatalf("unexpected file %+v", got)
	}
	got.RefSeqs[0].Name = "mutated"
	again, _ := store.GetFile("f1")
	if again.RefSeqs[0].Name != "chr1" {
		t.Fatalf("file record must be copied on read")
	}
	if len(hooked) != 1 {
		t.Fatalf("expected one hooked file, got %v", hooked)
	}
	_, err := store.RunInTransaction(context.Background(), "asm1", func(tx Transaction) error {
		if _, ok := tx.FindFile("f1"); !ok {
			t.Fatalf("expected file visible in transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestStoreReadsReturnCopies(t *testing.T) {
	store := NewStore(nil)
	seedAssembly(t, store, "asm1", "hg38")
	_, err := store.RunInTransaction(context.Background(), "asm1", func(tx Transaction) error {
		return tx.Features().Insert("", gene("g1", 0, 100))
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	features, err := store.ListFeatures("asm1")
	if err != nil || len(features) != 1 {
		t.Fatalf("list features: %v %v", features, err)
	}
	features[0].Max = 5
	f, _, _ := store.FindFeatureByID("g1")
	if f.Max != 100 {
		t.Fatalf("committed state mutated through read copy")
	}
	err = store.View(context.Background(), "asm1", func(view domain.AssemblyView) error {
		if view.Assembly().Name != "hg38" || len(view.RefSeqs()) != 1 {
			t.Fatalf("unexpected view")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if err := store.View(context.Background(), "missing", func(domain.AssemblyView) error { return nil }); !errors.Is(err, domain.ErrAssemblyNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreClockAndRecordIDs(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(nil, WithClock(func() time.Time { return fixed }))
	_, err := store.RunInTransaction(context.Background(), "asm1", func(tx Transaction) error {
		if err := tx.PutAssembly(Assembly{Name: "hg38"}); err != nil {
			return err
		}
		tx.RecordChange(domain.ChangeRecord{TypeName: "AddAssemblyFromFileChange"})
		tx.RecordChange(domain.ChangeRecord{TypeName: "AddAssemblyFromFileChange"})
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	log := store.ChangeLog("asm1")
	if len(log) != 2 || !log[0].At.Equal(fixed) || log[0].ID == log[1].ID {
		t.Fatalf("unexpected records %+v", log)
	}
}

func TestStoreSerializesWritersPerAssembly(t *testing.T) {
	store := NewStore(nil)
	seedAssembly(t, store, "asm1", "hg38")
	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.RunInTransaction(context.Background(), "asm1", func(tx Transaction) error {
				return tx.Features().Insert("", gene(fmt.Sprintf("g%02d", i), int64(i), int64(i+10)))
			})
			if err != nil {
				t.Errorf("writer %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	features, err := store.ListFeatures("asm1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(features) != writers {
		t.Fatalf("expected %d features, got %d", writers, len(features))
	}
}

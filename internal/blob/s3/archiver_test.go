package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/arbiterlabs/flasharb/internal/domain"
)

type fakeWriter struct {
	uploads map[string][]byte
	err     error
}

func (w *fakeWriter) Write(_ context.Context, path string, contentType string, body io.Reader) (domain.BlobInfo, error) {
	if w.err != nil {
		return domain.BlobInfo{}, w.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return domain.BlobInfo{}, err
	}
	if w.uploads == nil {
		w.uploads = make(map[string][]byte)
	}
	w.uploads[path] = data
	return domain.BlobInfo{Path: path, Size: int64(len(data)), ContentType: contentType}, nil
}

// fakeReader serves read-backs from the writer's uploads, optionally
// truncating or failing them to exercise the verification path.
type fakeReader struct {
	writer   *fakeWriter
	err      error
	truncate bool
}

func (r *fakeReader) Read(_ context.Context, path string) (io.ReadCloser, error) {
	if r.err != nil {
		return nil, r.err
	}
	data, ok := r.writer.uploads[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if r.truncate && len(data) > 0 {
		data = data[:bytes.IndexByte(data, '\n')+1]
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (r *fakeReader) List(context.Context, string) ([]domain.BlobInfo, error) { return nil, nil }

type fakeOutcomeStore struct {
	rows []domain.SettlementOutcome
}

func (s *fakeOutcomeStore) Append(context.Context, domain.SettlementOutcome) error { return nil }

func (s *fakeOutcomeStore) ListRecent(context.Context, int) ([]domain.SettlementOutcome, error) {
	return nil, nil
}

func (s *fakeOutcomeStore) ListBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.SettlementOutcome, error) {
	var page []domain.SettlementOutcome
	for _, row := range s.rows {
		if row.CompletedAt.Before(cutoff) {
			page = append(page, row)
			if len(page) == limit {
				break
			}
		}
	}
	return page, nil
}

func (s *fakeOutcomeStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var kept []domain.SettlementOutcome
	var deleted int64
	for _, row := range s.rows {
		if row.CompletedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, row)
	}
	s.rows = kept
	return deleted, nil
}

func outcomeAt(id string, completed time.Time) domain.SettlementOutcome {
	return domain.SettlementOutcome{
		RequestID:   id,
		Kind:        domain.RequestArbitrage,
		Pair:        domain.NewPair("WETH", "USDC"),
		Success:     true,
		SubmittedAt: completed.Add(-time.Second),
		CompletedAt: completed,
	}
}

func newArchiver(cfg ArchiverConfig, store *fakeOutcomeStore) (*Archiver, *fakeWriter, *fakeReader) {
	w := &fakeWriter{}
	r := &fakeReader{writer: w}
	logger := slog.New(slog.DiscardHandler)
	return NewArchiver(cfg, w, r, store, logger), w, r
}

func TestArchiveOutcomesUploadsThenDeletes(t *testing.T) {
	base := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeOutcomeStore{rows: []domain.SettlementOutcome{
		outcomeAt("a", base),
		outcomeAt("b", base.Add(time.Hour)),
		outcomeAt("c", base.Add(48*time.Hour)), // inside retention, must stay
	}}
	arch, w, _ := newArchiver(ArchiverConfig{PageSize: 10}, store)

	cutoff := base.Add(24 * time.Hour)
	archived, err := arch.ArchiveOutcomes(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveOutcomes() error = %v", err)
	}
	if archived != 2 {
		t.Fatalf("archived = %d, want 2", archived)
	}
	if len(store.rows) != 1 || store.rows[0].RequestID != "c" {
		t.Fatalf("store rows after archive = %+v, want only c", store.rows)
	}
	if len(w.uploads) != 1 {
		t.Fatalf("uploads = %d, want 1", len(w.uploads))
	}
	for path, data := range w.uploads {
		if !strings.HasPrefix(path, "archive/outcomes/2026-07/") {
			t.Errorf("upload path = %s, want archive/outcomes/2026-07/ prefix", path)
		}
		lines := bytes.Count(data, []byte("\n"))
		if lines != 2 {
			t.Errorf("uploaded %d JSONL lines, want 2", lines)
		}
	}
}

func TestArchiveOutcomesPagesOldestFirst(t *testing.T) {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeOutcomeStore{}
	for i := 0; i < 5; i++ {
		store.rows = append(store.rows, outcomeAt(string(rune('a'+i)), base.Add(time.Duration(i)*time.Hour)))
	}
	arch, w, _ := newArchiver(ArchiverConfig{PageSize: 2}, store)

	archived, err := arch.ArchiveOutcomes(context.Background(), base.Add(10*time.Hour))
	if err != nil {
		t.Fatalf("ArchiveOutcomes() error = %v", err)
	}
	if archived != 5 {
		t.Fatalf("archived = %d, want 5", archived)
	}
	if len(store.rows) != 0 {
		t.Fatalf("store rows remaining = %d, want 0", len(store.rows))
	}
	// 2 + 2 + 1 rows land in three page objects.
	if len(w.uploads) != 3 {
		t.Fatalf("uploads = %d, want 3", len(w.uploads))
	}
}

func TestArchiveOutcomesUploadFailureLeavesRows(t *testing.T) {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeOutcomeStore{rows: []domain.SettlementOutcome{outcomeAt("a", base)}}
	arch, w, _ := newArchiver(ArchiverConfig{PageSize: 10}, store)
	w.err = errors.New("bucket unavailable")

	archived, err := arch.ArchiveOutcomes(context.Background(), base.Add(time.Hour))
	if err == nil {
		t.Fatal("ArchiveOutcomes() error = nil, want upload failure")
	}
	if archived != 0 {
		t.Fatalf("archived = %d, want 0", archived)
	}
	if len(store.rows) != 1 {
		t.Fatalf("store rows = %d, want 1 (nothing deleted on failed upload)", len(store.rows))
	}
}

func TestArchiveOutcomesTruncatedReadBackLeavesRows(t *testing.T) {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeOutcomeStore{rows: []domain.SettlementOutcome{
		outcomeAt("a", base),
		outcomeAt("b", base.Add(time.Hour)),
	}}
	arch, _, r := newArchiver(ArchiverConfig{PageSize: 10}, store)
	r.truncate = true

	archived, err := arch.ArchiveOutcomes(context.Background(), base.Add(24*time.Hour))
	if err == nil {
		t.Fatal("ArchiveOutcomes() error = nil, want record count mismatch")
	}
	if archived != 0 {
		t.Fatalf("archived = %d, want 0", archived)
	}
	if len(store.rows) != 2 {
		t.Fatalf("store rows = %d, want 2 (nothing deleted on bad read-back)", len(store.rows))
	}
}

func TestArchiveOutcomesReadBackFailureLeavesRows(t *testing.T) {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeOutcomeStore{rows: []domain.SettlementOutcome{outcomeAt("a", base)}}
	arch, _, r := newArchiver(ArchiverConfig{PageSize: 10}, store)
	r.err = errors.New("object missing")

	if _, err := arch.ArchiveOutcomes(context.Background(), base.Add(time.Hour)); err == nil {
		t.Fatal("ArchiveOutcomes() error = nil, want read-back failure")
	}
	if len(store.rows) != 1 {
		t.Fatalf("store rows = %d, want 1 (nothing deleted on failed read-back)", len(store.rows))
	}
}

func TestArchiveOutcomesNothingToDo(t *testing.T) {
	store := &fakeOutcomeStore{}
	arch, w, _ := newArchiver(ArchiverConfig{}, store)

	archived, err := arch.ArchiveOutcomes(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ArchiveOutcomes() error = %v", err)
	}
	if archived != 0 || len(w.uploads) != 0 {
		t.Fatalf("archived = %d uploads = %d, want zero work", archived, len(w.uploads))
	}
}

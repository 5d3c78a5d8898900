package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "remindbot/pkg/logx"
)

const fileCompactEvery = 500

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot)
//   - <prefix>.journal.jsonl (append-only journal)
//
// The journal is compacted into the snapshot every fileCompactEvery writes
// and on Close.
type fileStore struct {
	log logx.Logger

	mu           sync.Mutex
	idx          *memoryStore
	snapshotPath string
	journal      *os.File
	writes       int
}

type journalOp string

const (
	opCreate      journalOp = "create"
	opComplete    journalOp = "complete"
	opDelete      journalOp = "delete"
	opDeleteOwner journalOp = "delete_owner"
)

type journalEntry struct {
	Op      journalOp `json:"op"`
	Record  *Record   `json:"record,omitempty"`
	ID      string    `json:"id,omitempty"`
	OwnerID int64     `json:"owner_id,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	idx := newMemoryStore()
	if err := loadSnapshot(snapPath, idx); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	skipped, err := replayJournal(journalPath, idx)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("replay journal: %w", err)
	}
	if skipped > 0 {
		log.Warn("journal entries skipped", logx.String("path", journalPath), logx.Int("skipped", skipped))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{
		log:          log,
		idx:          idx,
		snapshotPath: snapPath,
		journal:      jf,
	}, nil
}

func (s *fileStore) Create(ctx context.Context, r Record) (Record, error) {
	r, err := prepare(r)
	if err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return Record{}, ErrClosed
	}
	if _, err := s.idx.Get(ctx, r.ID); err == nil {
		return Record{}, fmt.Errorf("%w: duplicate id %q", ErrInvalidRecord, r.ID)
	}
	if err := s.appendLocked(journalEntry{Op: opCreate, Record: &r}); err != nil {
		return Record{}, err
	}
	s.idx.put(r)
	return r, nil
}

func (s *fileStore) Get(ctx context.Context, id string) (Record, error) {
	if s.isClosed() {
		return Record{}, ErrClosed
	}
	return s.idx.Get(ctx, id)
}

func (s *fileStore) ListByOwner(ctx context.Context, ownerID int64) ([]Record, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return s.idx.ListByOwner(ctx, ownerID)
}

func (s *fileStore) ListPending(ctx context.Context) ([]Record, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return s.idx.ListPending(ctx)
}

func (s *fileStore) MarkCompleted(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if _, err := s.idx.Get(ctx, id); err != nil {
		return err
	}
	if err := s.appendLocked(journalEntry{Op: opComplete, ID: id}); err != nil {
		return err
	}
	return s.idx.MarkCompleted(ctx, id)
}

func (s *fileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if _, err := s.idx.Get(ctx, id); err != nil {
		return err
	}
	if err := s.appendLocked(journalEntry{Op: opDelete, ID: id}); err != nil {
		return err
	}
	return s.idx.Delete(ctx, id)
}

func (s *fileStore) DeleteAllByOwner(ctx context.Context, ownerID int64) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	if err := s.appendLocked(journalEntry{Op: opDeleteOwner, OwnerID: ownerID}); err != nil {
		return nil, err
	}
	return s.idx.DeleteAllByOwner(ctx, ownerID)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	if err := s.compactLocked(); err != nil {
		s.log.Warn("storage compact on close failed", logx.Err(err))
	}
	err := s.journal.Close()
	s.journal = nil
	_ = s.idx.Close()
	return err
}

func (s *fileStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.journal == nil
}

func (s *fileStore) appendLocked(e journalEntry) error {
	if err := json.NewEncoder(s.journal).Encode(e); err != nil {
		return err
	}
	s.writes++
	if s.writes%fileCompactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("storage compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.idx.all()); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, idx *memoryStore) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var rs []Record
	if err := json.NewDecoder(f).Decode(&rs); err != nil {
		return err
	}
	for _, r := range rs {
		if r.ID != "" {
			idx.put(r)
		}
	}
	return nil
}

// replayJournal applies journal entries in order and returns how many lines
// could not be decoded.
func replayJournal(path string, idx *memoryStore) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	ctx := context.Background()
	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e journalEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			skipped++
			continue
		}
		switch e.Op {
		case opCreate:
			if e.Record != nil && e.Record.ID != "" {
				idx.put(*e.Record)
			}
		case opComplete:
			_ = idx.MarkCompleted(ctx, e.ID)
		case opDelete:
			_ = idx.Delete(ctx, e.ID)
		case opDeleteOwner:
			_, _ = idx.DeleteAllByOwner(ctx, e.OwnerID)
		default:
			skipped++
		}
	}
	return skipped, sc.Err()
}

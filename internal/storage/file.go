package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	logx "flowup/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.reminders.snapshot.json (periodic snapshot)
//   - <prefix>.reminders.journal.jsonl (append-only journal, fsync'd per write)
//
// The journal is periodically compacted into the snapshot.
// Only one process may open the same prefix.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  journal
	// broken is set when a failed append could not be undone; writes are
	// refused until the store is reopened.
	broken error

	rows        map[int64]PendingReminder
	generations map[int64]int64

	writes       int
	compactEvery int
}

const (
	opPut    = "put"
	opDelete = "del"
)

// journal is the subset of *os.File the store writes through.
type journal interface {
	io.WriteCloser
	io.Seeker
	Sync() error
	Truncate(size int64) error
	Stat() (os.FileInfo, error)
}

type journalRecord struct {
	Op string `json:"op"`
	PendingReminder
}

type fileSnapshot struct {
	Reminders   []PendingReminder `json:"reminders"`
	Generations map[int64]int64   `json:"generations"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".reminders.snapshot.json"
	journalPath := prefix + ".reminders.journal.jsonl"

	s := &fileStore{
		log:          log,
		snapshotPath: snapPath,
		rows:         map[int64]PendingReminder{},
		generations:  map[int64]int64{},
		compactEvery: 1000,
	}
	if err := s.loadSnapshot(snapPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	valid, err := s.replayJournal(journalPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	// Drop a torn tail so the next append starts on its own line.
	if st, err := jf.Stat(); err == nil && st.Size() > valid {
		if err := jf.Truncate(valid); err != nil {
			_ = jf.Close()
			return nil, err
		}
	}
	s.journalFile = jf
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("rows", len(s.rows)))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	err := s.journalFile.Close()
	s.journalFile = nil
	return err
}

func (s *fileStore) Put(ctx context.Context, r PendingReminder) (PendingReminder, error) {
	if err := ctx.Err(); err != nil {
		return PendingReminder{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return PendingReminder{}, ErrClosed
	}

	if last, ok := s.generations[r.ActivityID]; ok {
		r.Generation = last + 1
	} else {
		r.Generation = 0
	}
	if err := s.appendLocked(journalRecord{Op: opPut, PendingReminder: r}); err != nil {
		return PendingReminder{}, err
	}
	s.rows[r.ActivityID] = r
	s.generations[r.ActivityID] = r.Generation
	s.afterWriteLocked()
	return r, nil
}

func (s *fileStore) Get(ctx context.Context, activityID int64) (PendingReminder, bool, error) {
	if err := ctx.Err(); err != nil {
		return PendingReminder{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return PendingReminder{}, false, ErrClosed
	}
	r, ok := s.rows[activityID]
	return r, ok, nil
}

func (s *fileStore) Delete(ctx context.Context, activityID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	if _, ok := s.rows[activityID]; !ok {
		return nil
	}
	if err := s.appendLocked(journalRecord{Op: opDelete, PendingReminder: PendingReminder{ActivityID: activityID}}); err != nil {
		return err
	}
	delete(s.rows, activityID)
	s.afterWriteLocked()
	return nil
}

func (s *fileStore) List(ctx context.Context) ([]PendingReminder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.journalFile == nil {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	out := make([]PendingReminder, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	s.mu.Unlock()

	sortReminders(out)
	return out, nil
}

// appendLocked writes one record and fsyncs it. On failure the journal is
// truncated back to its previous size so the record never replays.
func (s *fileStore) appendLocked(rec journalRecord) error {
	if s.broken != nil {
		return s.broken
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	st, err := s.journalFile.Stat()
	if err != nil {
		return err
	}
	off := st.Size()
	_, werr := s.journalFile.Write(b)
	if werr == nil {
		werr = s.journalFile.Sync()
	}
	if werr == nil {
		return nil
	}
	if terr := s.undoAppendLocked(off); terr != nil {
		s.broken = fmt.Errorf("reminder journal unusable: %w", errors.Join(werr, terr))
		s.log.Error("reminder journal rollback failed", logx.Err(s.broken))
	}
	return werr
}

func (s *fileStore) undoAppendLocked(off int64) error {
	if err := s.journalFile.Truncate(off); err != nil {
		return err
	}
	if _, err := s.journalFile.Seek(off, io.SeekStart); err != nil {
		return err
	}
	return s.journalFile.Sync()
}

func (s *fileStore) afterWriteLocked() {
	s.writes++
	if s.compactEvery > 0 && s.writes%s.compactEvery == 0 {
		// Best-effort compact; the journal stays authoritative on failure.
		if err := s.compactLocked(); err != nil {
			s.log.Warn("reminder journal compact failed", logx.Err(err))
		}
	}
}

func (s *fileStore) compactLocked() error {
	snap := fileSnapshot{Reminders: make([]PendingReminder, 0, len(s.rows)), Generations: s.generations}
	for _, r := range s.rows {
		snap.Reminders = append(snap.Reminders, r)
	}
	sortReminders(snap.Reminders)

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) loadSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, r := range snap.Reminders {
		s.rows[r.ActivityID] = r
	}
	for id, g := range snap.Generations {
		s.generations[id] = g
	}
	return nil
}

// replayJournal applies every complete line and returns the offset just past
// the last one.
func (s *fileStore) replayJournal(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	// Lines are unbounded; a message may be longer than any scanner buffer.
	br := bufio.NewReader(f)
	var valid int64
	for {
		line, err := br.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			return valid, nil
		}
		if err != nil {
			return valid, err
		}
		valid += int64(len(line))
		if len(bytes.TrimSpace(line)) > 0 {
			s.applyJournalLine(line)
		}
	}
}

func (s *fileStore) applyJournalLine(line []byte) {
	var rec journalRecord
	// A torn trailing line from a crash mid-append is skipped.
	if err := json.Unmarshal(line, &rec); err != nil {
		return
	}
	switch rec.Op {
	case opPut:
		s.rows[rec.ActivityID] = rec.PendingReminder
		if g, ok := s.generations[rec.ActivityID]; !ok || rec.Generation > g {
			s.generations[rec.ActivityID] = rec.Generation
		}
	case opDelete:
		delete(s.rows, rec.ActivityID)
	}
}

func sortReminders(rs []PendingReminder) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].FireAtMillis != rs[j].FireAtMillis {
			return rs[i].FireAtMillis < rs[j].FireAtMillis
		}
		return rs[i].ActivityID < rs[j].ActivityID
	})
}

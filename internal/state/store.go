package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// globalStatsKey is the reserved top-level key in the state file; every other
// top-level key is a command ID.
const globalStatsKey = "global_stats"

// Store persists HookState records in a single JSON file guarded by an
// exclusive advisory lock. Construct one per process entry point and thread
// it through; the file is the only shared mutable resource between
// concurrent hook invocations.
type Store struct {
	path string
}

// NewStore returns a store backed by the JSON file at path. The file and its
// parent directories are created lazily on first write.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Mutate runs fn on an in-memory copy of the state file while holding the
// exclusive lock, then atomically rewrites the file. The critical section
// must stay minimal: JSON parse/serialize only, no subprocess work.
func (s *Store) Mutate(fn func(*Snapshot) error) error {
	lock, err := lockFile(s.path)
	if err != nil {
		return err
	}
	defer unlockFile(lock)

	snap, extras := s.load()
	if err := fn(&snap); err != nil {
		return err
	}
	return s.write(snap, extras)
}

// Get returns the record for commandID and whether it was present.
// Missing files and missing records are not errors.
func (s *Store) Get(commandID string) (HookState, bool, error) {
	var (
		st HookState
		ok bool
	)
	err := s.read(func(snap *Snapshot) {
		st, ok = snap.Commands[commandID]
	})
	if !ok {
		st = NewHookState(commandID)
	}
	return st, ok, err
}

// Put stores a single record.
func (s *Store) Put(st HookState) error {
	return s.Mutate(func(snap *Snapshot) error {
		snap.SetRecord(st)
		return nil
	})
}

// ListAll returns a copy of every record plus the global stats.
func (s *Store) ListAll() (map[string]HookState, GlobalStats, error) {
	var (
		commands map[string]HookState
		global   GlobalStats
	)
	err := s.read(func(snap *Snapshot) {
		commands = make(map[string]HookState, len(snap.Commands))
		for id, st := range snap.Commands {
			commands[id] = st
		}
		global = snap.Global
	})
	return commands, global, err
}

// Reset removes the record for commandID. Reports whether one existed.
func (s *Store) Reset(commandID string) (bool, error) {
	existed := false
	err := s.Mutate(func(snap *Snapshot) error {
		if _, ok := snap.Commands[commandID]; ok {
			existed = true
			delete(snap.Commands, commandID)
		}
		return nil
	})
	return existed, err
}

// ResetAll removes every record and zeroes the global stats. Returns the
// number of records removed.
func (s *Store) ResetAll() (int, error) {
	removed := 0
	err := s.Mutate(func(snap *Snapshot) error {
		removed = len(snap.Commands)
		snap.Commands = nil
		snap.Global = GlobalStats{}
		return nil
	})
	return removed, err
}

// read runs fn on a locked snapshot without writing back.
func (s *Store) read(fn func(*Snapshot)) error {
	lock, err := lockFile(s.path)
	if err != nil {
		return err
	}
	defer unlockFile(lock)

	snap, _ := s.load()
	fn(&snap)
	return nil
}

// load parses the state file. Corrupt or missing files are treated as empty
// state; the store never raises on read. Unknown top-level keys are carried
// in extras so a rewrite preserves them for newer readers.
func (s *Store) load() (Snapshot, map[string]json.RawMessage) {
	snap := Snapshot{Commands: make(map[string]HookState)}
	extras := make(map[string]json.RawMessage)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Default().Warn("state file unreadable, starting empty", "path", s.path, "error", err)
		}
		return snap, extras
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		slog.Default().Warn("state file corrupt, starting empty", "path", s.path, "error", err)
		return snap, extras
	}

	for key, value := range raw {
		if key == globalStatsKey {
			if err := json.Unmarshal(value, &snap.Global); err != nil {
				slog.Default().Warn("global stats corrupt, resetting", "path", s.path, "error", err)
			}
			continue
		}
		var st HookState
		if err := json.Unmarshal(value, &st); err != nil {
			extras[key] = value
			continue
		}
		if st.CommandID == "" {
			st.CommandID = key
		}
		if st.State == "" {
			st.State = StateClosed
		}
		snap.Commands[key] = st
	}
	return snap, extras
}

// write atomically rewrites the state file: marshal to a temp file in the
// same directory, then rename over the original. A killed process leaves the
// last-committed file intact.
func (s *Store) write(snap Snapshot, extras map[string]json.RawMessage) error {
	doc := make(map[string]any, len(snap.Commands)+len(extras)+1)
	for key, value := range extras {
		doc[key] = value
	}
	for id, st := range snap.Commands {
		doc[id] = st
	}
	doc[globalStatsKey] = snap.Global

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

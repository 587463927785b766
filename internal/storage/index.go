// Package storage implements the checksum/storage index (C2, §4.2): a
// content-hash-keyed ledger of agent records, persisted as a single JSON
// document with atomic temp-file-then-rename writes — the same durable
// write shape the teacher uses for migration bookkeeping, generalized here
// from SQL migration state to a flat content index.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coreagent/controller/internal/apierr"
)

// Record is the persisted agent record (spec §3 "Agent record").
type Record struct {
	Name         string    `json:"name"`
	Hash         string    `json:"hash"`
	InstallDir   string    `json:"install_dir"`
	Manifest     string    `json:"manifest"`
	Capabilities []string  `json:"capabilities"`
	Version      string    `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
}

// Index is the durable hash -> Record ledger. The checksum DB is mutated
// only through Index's critical section (one writer), per spec §5.
type Index struct {
	mu      sync.RWMutex
	path    string
	records map[string]Record // keyed by hash
}

// Open loads an existing checksums.json (spec §6 persisted state layout)
// or starts an empty index if the file does not yet exist.
func Open(path string) (*Index, error) {
	idx := &Index{path: path, records: make(map[string]Record)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading checksum index: %w", err)
	}
	if len(data) == 0 {
		return idx, nil
	}
	if err := json.Unmarshal(data, &idx.records); err != nil {
		return nil, fmt.Errorf("parsing checksum index: %w", err)
	}
	return idx, nil
}

// Lookup returns the record for a content hash, if any.
func (idx *Index) Lookup(hash string) (Record, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	r, ok := idx.records[hash]
	return r, ok
}

// RecordExists reports whether any live record carries the given agent
// name, enforcing the (name) <-> (hash) bijection (spec §3 invariant).
func (idx *Index) RecordExists(name string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, r := range idx.records {
		if r.Name == name {
			return true
		}
	}
	return false
}

// ByName returns the record currently bound to an agent name.
func (idx *Index) ByName(name string) (Record, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, r := range idx.records {
		if r.Name == name {
			return r, true
		}
	}
	return Record{}, false
}

// All returns a snapshot of every live record.
func (idx *Index) All() []Record {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]Record, 0, len(idx.records))
	for _, r := range idx.records {
		out = append(out, r)
	}
	return out
}

// Insert adds a record, failing with apierr.ErrDuplicateHash unless force
// overwrites an existing entry for the same hash (spec §4.2).
func (idx *Index) Insert(r Record, force bool) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.records[r.Hash]; exists && !force {
		return apierr.New(apierr.ClassInput, 409, "duplicate_hash", apierr.ErrDuplicateHash)
	}
	idx.records[r.Hash] = r
	return idx.persistLocked()
}

// Remove deletes every record bound to an agent name.
func (idx *Index) Remove(name string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	changed := false
	for hash, r := range idx.records {
		if r.Name == name {
			delete(idx.records, hash)
			changed = true
		}
	}
	if !changed {
		return apierr.NotFound("agent_not_found", apierr.ErrAgentNotFound)
	}
	return idx.persistLocked()
}

// Flush rewrites the index file even absent a logical mutation — used by
// graceful shutdown (C12) to guarantee a final durable write.
func (idx *Index) Flush() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.persistLocked()
}

// persistLocked atomically rewrites the index file (temp-file + rename).
// Caller must hold idx.mu.
func (idx *Index) persistLocked() error {
	data, err := json.MarshalIndent(idx.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checksum index: %w", err)
	}

	dir := filepath.Dir(idx.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".checksums-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp index file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp index file: %w", err)
	}
	if err := os.Rename(tmpPath, idx.path); err != nil {
		return fmt.Errorf("renaming temp index file: %w", err)
	}
	return nil
}

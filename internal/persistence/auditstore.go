package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/basket/swarmctl/internal/swarm"
)

// AuditStore appends signed entries to the audit JSONL file. Unlike the
// task journal it is never compacted or rewritten; the hash chain only
// holds if the file stays append-only.
type AuditStore struct {
	mu         sync.Mutex
	path       string
	file       *os.File
	tailDigest string
}

// OpenAuditStore opens or creates the audit log at path and reads the
// existing tail digest so new entries chain onto it.
func OpenAuditStore(path string) (*AuditStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	entries, err := LoadAuditEntries(path)
	if err != nil {
		return nil, err
	}
	tail := ""
	if len(entries) > 0 {
		tail = entries[len(entries)-1].Digest
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &AuditStore{path: path, file: f, tailDigest: tail}, nil
}

func (s *AuditStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// TailDigest returns the digest of the last appended entry, or "" for
// an empty log. Pass it as PreviousHash when signing the next entry.
func (s *AuditStore) TailDigest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tailDigest
}

// Append writes a signed entry. The entry's PreviousHash must equal the
// current tail digest; this catches callers racing each other to sign
// against a stale tail.
func (s *AuditStore) Append(entry swarm.SignedAuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("audit log is closed")
	}
	if entry.PreviousHash != s.tailDigest {
		return fmt.Errorf("audit entry chains to %q but log tail is %q", entry.PreviousHash, s.tailDigest)
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	s.tailDigest = entry.Digest
	return nil
}

// LoadAuditEntries reads the full audit log in order. Any unparseable
// line is an error; a damaged audit file must be surfaced, not skipped.
func LoadAuditEntries(path string) ([]swarm.SignedAuditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var entries []swarm.SignedAuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry swarm.SignedAuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("audit log line %d: %w", lineNo, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return entries, nil
}

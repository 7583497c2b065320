// Package persistence owns the on-disk state of the control plane: a
// JSONL journal of task records, a JSONL audit chain, and a sqlite
// archive for closed tasks.
//
// The journal has two line types. A "record" line carries one task
// snapshot; on load the last record line per task id wins. A
// "snapshot" line carries the whole live set and resets replay state,
// which is how compaction collapses history: the journal is rewritten
// to a single snapshot line via a temp file and rename, so a crash
// mid-compaction leaves either the old or the new file intact, never a
// half-written one.
package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/basket/swarmctl/internal/swarm"
)

const (
	lineTypeRecord   = "record"
	lineTypeSnapshot = "snapshot"
)

type journalLine struct {
	Type    string             `json:"type"`
	At      int64              `json:"at,omitempty"`
	Record  *swarm.TaskRecord  `json:"record,omitempty"`
	Records []swarm.TaskRecord `json:"records,omitempty"`
}

// TaskStore journals task records to a JSONL file.
type TaskStore struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// OpenTaskStore opens or creates the journal at path.
func OpenTaskStore(path string) (*TaskStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open task journal: %w", err)
	}
	return &TaskStore{path: path, file: f}, nil
}

func (s *TaskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Append journals the current snapshot of a record.
func (s *TaskStore) Append(record swarm.TaskRecord) error {
	if record.TaskID == "" {
		return fmt.Errorf("append task record: empty task id")
	}
	data, err := json.Marshal(journalLine{Type: lineTypeRecord, At: swarm.NowMs(), Record: &record})
	if err != nil {
		return fmt.Errorf("marshal journal line: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("task journal is closed")
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append task record: %w", err)
	}
	return nil
}

// LoadRecords replays the journal and returns the latest snapshot per
// task id. A corrupt trailing line (torn write from a crash) is
// skipped; a corrupt line in the middle of the file is an error.
func LoadRecords(path string) (map[string]swarm.TaskRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]swarm.TaskRecord{}, nil
		}
		return nil, fmt.Errorf("open task journal: %w", err)
	}
	defer f.Close()

	records := map[string]swarm.TaskRecord{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	var pendingErr error
	var pendingLine int
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		if pendingErr != nil {
			// A later line proves the bad one was not a torn tail.
			return nil, fmt.Errorf("task journal line %d: %w", pendingLine, pendingErr)
		}
		var line journalLine
		if err := json.Unmarshal(raw, &line); err != nil {
			pendingErr = err
			pendingLine = lineNo
			continue
		}
		switch line.Type {
		case lineTypeRecord:
			if line.Record == nil || line.Record.TaskID == "" {
				pendingErr = fmt.Errorf("record line missing taskId")
				pendingLine = lineNo
				continue
			}
			records[line.Record.TaskID] = *line.Record
		case lineTypeSnapshot:
			records = make(map[string]swarm.TaskRecord, len(line.Records))
			for _, r := range line.Records {
				records[r.TaskID] = r
			}
		default:
			pendingErr = fmt.Errorf("unknown line type %q", line.Type)
			pendingLine = lineNo
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read task journal: %w", err)
	}
	return records, nil
}

// SortedRecords returns the records ordered by creation time, breaking
// ties by task id so listings are stable.
func SortedRecords(records map[string]swarm.TaskRecord) []swarm.TaskRecord {
	out := make([]swarm.TaskRecord, 0, len(records))
	for _, r := range records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out
}

// Compact rewrites the journal to a single snapshot line holding the
// surviving records, typically after archiving terminal ones.
func (s *TaskStore) Compact(records map[string]swarm.TaskRecord) error {
	line := journalLine{
		Type:    lineTypeSnapshot,
		At:      swarm.NowMs(),
		Records: SortedRecords(records),
	}
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("marshal snapshot line: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tasks-compact-*")
	if err != nil {
		return fmt.Errorf("create compaction temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write compacted journal: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync compacted journal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close compacted journal: %w", err)
	}

	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return fmt.Errorf("close old journal: %w", err)
		}
		s.file = nil
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("swap compacted journal: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("reopen task journal: %w", err)
	}
	s.file = f
	return nil
}

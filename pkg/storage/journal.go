package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/uhyunpark/stoplimit/pkg/app/core/settlement"
)

// Journal appends every committed settlement event to a file, one JSON object per line.
type Journal struct {
	mu sync.Mutex
	f  *os.File
}

func NewJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Journal{f: f}, nil
}

func (j *Journal) Name() string { return "journal" }

func (j *Journal) Publish(_ context.Context, ev settlement.Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = fmt.Fprintln(j.f, string(line))
	return err
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// JournalEntry is a journal line read back. The payload stays raw since its shape depends on Type.
type JournalEntry struct {
	ID      string               `json:"id"`
	Type    settlement.EventType `json:"type"`
	Payload json.RawMessage      `json:"payload"`
}

// ReadJournal calls fn for every entry in path, in append order, until fn returns false.
func ReadJournal(path string, fn func(JournalEntry) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for n := 1; sc.Scan(); n++ {
		var e JournalEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("journal line %d: %w", n, err)
		}
		if !fn(e) {
			return nil
		}
	}
	return sc.Err()
}

var _ settlement.Sink = (*Journal)(nil)

package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/uhyunpark/stoplimit/pkg/app/core/settlement"
)

func TestJournalAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events", "journal.jsonl")
	j, err := NewJournal(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	ctx := context.Background()
	events := []settlement.Event{
		{ID: "1", Type: settlement.EventFill, Payload: settlement.FillEvent{Amount: "9", Mode: "single"}},
		{ID: "2", Type: settlement.EventCancel, Payload: settlement.CancelEvent{Repeat: true}},
		{ID: "3", Type: settlement.EventSweep, Payload: settlement.SweepEvent{Kind: "fees", Amount: "999"}},
	}
	for _, ev := range events {
		if err := j.Publish(ctx, ev); err != nil {
			t.Fatalf("publish %s: %v", ev.ID, err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// reopening appends
	j, err = NewJournal(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := j.Publish(ctx, settlement.Event{ID: "4", Type: settlement.EventFees}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	j.Close()

	var got []JournalEntry
	if err := ReadJournal(path, func(e JournalEntry) bool {
		got = append(got, e)
		return true
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(got))
	}
	if got[0].Type != settlement.EventFill || got[3].ID != "4" {
		t.Fatalf("unexpected order: %+v", got)
	}
	var fill settlement.FillEvent
	if err := json.Unmarshal(got[0].Payload, &fill); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if fill.Amount != "9" || fill.Mode != "single" {
		t.Fatalf("unexpected payload: %+v", fill)
	}

	n := 0
	_ = ReadJournal(path, func(JournalEntry) bool { n++; return n < 2 })
	if n != 2 {
		t.Fatalf("expected early stop after 2 entries, got %d", n)
	}
}

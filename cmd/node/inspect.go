package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/stoplimit/params"
	"github.com/uhyunpark/stoplimit/pkg/app/core/ledger"
	"github.com/uhyunpark/stoplimit/pkg/storage"
)

// inspect prints the fill ledger and the event journal of a stopped node.
// The store is opened exclusively, so it fails while a node holds it.
func inspect(cfg params.Config, w io.Writer) error {
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "fills.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	fmt.Fprintln(w, "Fills:")
	n := 0
	err = store.ForEachFill(func(digest common.Hash, rec *ledger.Record) bool {
		n++
		fmt.Fprintf(w, "  %s filled=%s cancelled=%t\n", digest.Hex(), rec.Filled, rec.Cancelled)
		return true
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "  (%d orders)\n", n)

	if cfg.Node.JournalFile == "" {
		return nil
	}
	fmt.Fprintln(w, "Journal:")
	err = storage.ReadJournal(cfg.Node.JournalFile, func(e storage.JournalEntry) bool {
		fmt.Fprintf(w, "  %s %-9s %s\n", e.ID, e.Type, e.Payload)
		return true
	})
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(w, "  (empty)")
		return nil
	}
	return err
}

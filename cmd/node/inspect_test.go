package main

import (
	"bytes"
	"context"
	"math/big"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/stoplimit/params"
	"github.com/uhyunpark/stoplimit/pkg/app/core/ledger"
	"github.com/uhyunpark/stoplimit/pkg/app/core/settlement"
	"github.com/uhyunpark/stoplimit/pkg/storage"
)

func TestInspectPrintsFillsAndJournal(t *testing.T) {
	cfg := params.Default()
	cfg.Node.DataDir = t.TempDir()
	cfg.Node.JournalFile = filepath.Join(cfg.Node.DataDir, "events.jsonl")

	filled, cancelled := common.HexToHash("0x01"), common.HexToHash("0x02")
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "fills.db"))
	require.NoError(t, err)
	require.NoError(t, store.SaveFills(map[common.Hash]*ledger.Record{
		filled:    {Filled: big.NewInt(9)},
		cancelled: {Filled: big.NewInt(0), Cancelled: true},
	}))
	require.NoError(t, store.Close())

	journal, err := storage.NewJournal(cfg.Node.JournalFile)
	require.NoError(t, err)
	require.NoError(t, journal.Publish(context.Background(), settlement.Event{
		ID: "ev-1", Type: settlement.EventCancel, Time: time.Unix(0, 0),
		Payload: settlement.CancelEvent{Digest: cancelled},
	}))
	require.NoError(t, journal.Close())

	var out bytes.Buffer
	require.NoError(t, inspect(cfg, &out))
	got := out.String()
	require.Contains(t, got, filled.Hex()+" filled=9 cancelled=false")
	require.Contains(t, got, cancelled.Hex()+" filled=0 cancelled=true")
	require.Contains(t, got, "(2 orders)")
	require.Contains(t, got, "ev-1 cancel")
	// digest order
	require.Less(t, strings.Index(got, filled.Hex()), strings.Index(got, cancelled.Hex()))
}

func TestInspectWithoutJournal(t *testing.T) {
	cfg := params.Default()
	cfg.Node.DataDir = t.TempDir()
	cfg.Node.JournalFile = filepath.Join(cfg.Node.DataDir, "missing.jsonl")

	var out bytes.Buffer
	require.NoError(t, inspect(cfg, &out))
	require.Contains(t, out.String(), "(0 orders)")
	require.Contains(t, out.String(), "(empty)")
}

package ledger_test

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/stoplimit/pkg/app/core/errs"
	"github.com/uhyunpark/stoplimit/pkg/app/core/ledger"
	"github.com/uhyunpark/stoplimit/pkg/storage"
)

var (
	digest = common.HexToHash("0xabc")
	maker  = common.HexToAddress("0x01")
	other  = common.HexToAddress("0x02")
)

func TestReserveDoesNotMutate(t *testing.T) {
	l := ledger.New(storage.NewMemoryStore())

	if err := l.Reserve(digest, big.NewInt(9), big.NewInt(9), nil); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	filled, _ := l.Filled(digest)
	if filled.Sign() != 0 {
		t.Fatalf("Reserve mutated the ledger: filled=%s", filled)
	}
}

func TestOverfill(t *testing.T) {
	l := ledger.New(storage.NewMemoryStore())
	amountIn := big.NewInt(9)

	if err := l.Commit(map[common.Hash]*big.Int{digest: big.NewInt(5)}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tests := []struct {
		name      string
		requested int64
		pending   int64
		wantErr   bool
	}{
		{"exact remainder", 4, 0, false},
		{"one over", 5, 0, true},
		{"pending counts", 3, 2, true},
		{"pending fits", 2, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.Reserve(digest, amountIn, big.NewInt(tt.requested), big.NewInt(tt.pending))
			if tt.wantErr != (err != nil) {
				t.Fatalf("Reserve err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, errs.Overfilled) {
				t.Fatalf("expected Overfilled, got %v", err)
			}
		})
	}
}

func TestCancelFreezesRecord(t *testing.T) {
	l := ledger.New(storage.NewMemoryStore())
	if err := l.Commit(map[common.Hash]*big.Int{digest: big.NewInt(2)}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, err := l.Cancel(digest, other, maker); !errors.Is(err, errs.NotMaker) {
		t.Fatalf("cancel by non-maker: got %v, want NotMaker", err)
	}

	repeat, err := l.Cancel(digest, maker, maker)
	if err != nil || repeat {
		t.Fatalf("first cancel = %v, %v", repeat, err)
	}
	repeat, err = l.Cancel(digest, maker, maker)
	if err != nil || !repeat {
		t.Fatalf("second cancel = %v, %v; want idempotent success", repeat, err)
	}

	if err := l.Reserve(digest, big.NewInt(9), big.NewInt(1), nil); !errors.Is(err, errs.OrderCancelled) {
		t.Fatalf("Reserve after cancel: got %v", err)
	}
	if err := l.Commit(map[common.Hash]*big.Int{digest: big.NewInt(1)}); !errors.Is(err, errs.OrderCancelled) {
		t.Fatalf("Commit after cancel: got %v", err)
	}

	rec, _ := l.Status(digest)
	if !rec.Cancelled || rec.Filled.Int64() != 2 {
		t.Fatalf("status after cancel = %+v", rec)
	}
}

func TestCancelBeforeAnyFill(t *testing.T) {
	l := ledger.New(storage.NewMemoryStore())
	if _, err := l.Cancel(digest, maker, maker); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := l.Reserve(digest, big.NewInt(9), big.NewInt(1), nil); !errors.Is(err, errs.OrderCancelled) {
		t.Fatalf("expected OrderCancelled, got %v", err)
	}
}

func TestStatuses(t *testing.T) {
	l := ledger.New(storage.NewMemoryStore())
	d2 := common.HexToHash("0xdef")
	_ = l.Commit(map[common.Hash]*big.Int{digest: big.NewInt(7)})
	_, _ = l.Cancel(d2, maker, maker)

	recs, err := l.Statuses([]common.Hash{d2, digest, common.HexToHash("0x99")})
	if err != nil {
		t.Fatalf("Statuses: %v", err)
	}
	if !recs[0].Cancelled || recs[1].Filled.Int64() != 7 || recs[2].Filled.Sign() != 0 {
		t.Fatalf("Statuses = %+v %+v %+v", recs[0], recs[1], recs[2])
	}
}

// Concurrent reserve+commit under the digest lock must never exceed amountIn.
func TestLockSerialisesReserveAndCommit(t *testing.T) {
	l := ledger.New(storage.NewMemoryStore())
	amountIn := big.NewInt(10)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(digest)
			defer unlock()
			if err := l.Reserve(digest, amountIn, big.NewInt(3), nil); err != nil {
				return
			}
			_ = l.Commit(map[common.Hash]*big.Int{digest: big.NewInt(3)})
		}()
	}
	wg.Wait()

	filled, _ := l.Filled(digest)
	if filled.Int64() != 9 {
		t.Fatalf("filled = %s, want 9", filled)
	}
}

func TestLockHandlesDuplicatesAndOrdering(t *testing.T) {
	l := ledger.New(storage.NewMemoryStore())
	a, b := common.HexToHash("0x01"), common.HexToHash("0x02")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			unlock := l.Lock(b, a, b)
			unlock()
		}
		close(done)
	}()
	for i := 0; i < 200; i++ {
		unlock := l.Lock(a, b)
		unlock()
	}
	<-done
}

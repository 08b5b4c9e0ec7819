package storage

import (
	"github.com/ethereum/go-ethereum/common"
)

// Key schema:
//
//	fill:<32-byte digest> → ledger.Record (JSON)
//	gov:state             → governance.State (JSON)
const (
	prefixFill = "fill:"
	keyGov     = "gov:state"
)

func fillKey(digest common.Hash) []byte {
	return append([]byte(prefixFill), digest[:]...)
}

func digestFromFillKey(k []byte) (common.Hash, bool) {
	if len(k) != len(prefixFill)+common.HashLength {
		return common.Hash{}, false
	}
	return common.BytesToHash(k[len(prefixFill):]), true
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

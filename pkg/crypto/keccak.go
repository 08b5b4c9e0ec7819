package crypto

import (
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Keccak256 returns the legacy (pre-NIST) Keccak-256 of the concatenated inputs.
func Keccak256(data ...[]byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		h.Write(b)
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}

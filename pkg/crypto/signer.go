package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/uhyunpark/stoplimit/pkg/app/core/order"
)

// Signer manages a secp256k1 key pair for signing order digests.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// GenerateKey creates a new random secp256k1 key pair
func GenerateKey() (*Signer, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return newSigner(privateKey), nil
}

// FromPrivateKeyHex creates a Signer from a hex-encoded private key
// Format: "0x1234..." or "1234..." (64 hex chars)
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	if len(hexKey) >= 2 && hexKey[0] == '0' && (hexKey[1] == 'x' || hexKey[1] == 'X') {
		hexKey = hexKey[2:]
	}
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return newSigner(privateKey), nil
}

func newSigner(privateKey *ecdsa.PrivateKey) *Signer {
	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// Address returns the Ethereum address derived from the public key
func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKeyHex returns the private key as hex string (WITHOUT 0x prefix)
// WARNING: Keep this secret! Never expose to users or logs
func (s *Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.privateKey))
}

// Sign signs a 32-byte digest. V is returned as 27 or 28.
func (s *Signer) Sign(digest common.Hash) (order.Signature, error) {
	raw, err := crypto.Sign(digest[:], s.privateKey)
	if err != nil {
		return order.Signature{}, fmt.Errorf("failed to sign: %w", err)
	}
	return order.SignatureFromBytes(raw)
}

// canonical converts sig to the 65-byte [R || S || recid] layout Ecrecover expects.
// It rejects recovery ids other than 0/1/27/28, r or s outside [1, N-1], and high s.
func canonical(sig order.Signature) ([]byte, bool) {
	v := sig.V
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return nil, false
	}
	r := new(big.Int).SetBytes(sig.R[:])
	s := new(big.Int).SetBytes(sig.S[:])
	if !crypto.ValidateSignatureValues(v, r, s, true) {
		return nil, false
	}
	raw := make([]byte, 65)
	copy(raw[:32], sig.R[:])
	copy(raw[32:64], sig.S[:])
	raw[64] = v
	return raw, true
}

// RecoverAddress recovers the address that signed digest.
func RecoverAddress(digest common.Hash, sig order.Signature) (common.Address, error) {
	raw, ok := canonical(sig)
	if !ok {
		return common.Address{}, fmt.Errorf("malformed signature")
	}
	pub, err := crypto.SigToPub(digest[:], raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify reports whether sig over digest was produced by claimed. Any malformed input is a
// plain false, never an error.
func Verify(digest common.Hash, sig order.Signature, claimed common.Address) bool {
	if claimed == (common.Address{}) {
		return false
	}
	addr, err := RecoverAddress(digest, sig)
	if err != nil {
		return false
	}
	return addr == claimed
}

package crypto

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/uhyunpark/stoplimit/pkg/app/core/order"
)

// Hardhat's first three default accounts.
const (
	alicePrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	bobPrivateKey   = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

func TestFromPrivateKeyHex(t *testing.T) {
	alice, err := FromPrivateKeyHex(alicePrivateKey)
	if err != nil {
		t.Fatalf("failed to load key: %v", err)
	}
	want := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	if alice.Address() != want {
		t.Errorf("address = %s, want %s", alice.Address().Hex(), want.Hex())
	}

	again, err := FromPrivateKeyHex(alice.PrivateKeyHex())
	if err != nil {
		t.Fatalf("failed to reload key without prefix: %v", err)
	}
	if again.Address() != want {
		t.Errorf("reloaded address = %s", again.Address().Hex())
	}

	if _, err := FromPrivateKeyHex("0xzz"); err == nil {
		t.Error("expected error for malformed key")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	for i := 0; i < 16; i++ {
		signer, err := GenerateKey()
		if err != nil {
			t.Fatalf("failed to generate key: %v", err)
		}
		digest := eth_crypto.Keccak256Hash([]byte{byte(i)}, signer.Address().Bytes())

		sig, err := signer.Sign(digest)
		if err != nil {
			t.Fatalf("failed to sign: %v", err)
		}
		if sig.V != 27 && sig.V != 28 {
			t.Fatalf("V = %d, want 27 or 28", sig.V)
		}
		if !Verify(digest, sig, signer.Address()) {
			t.Fatalf("round trip failed for %s", signer.Address().Hex())
		}

		recovered, err := RecoverAddress(digest, sig)
		if err != nil {
			t.Fatalf("failed to recover: %v", err)
		}
		if recovered != signer.Address() {
			t.Errorf("recovered %s, want %s", recovered.Hex(), signer.Address().Hex())
		}
	}
}

func TestVerifyFailsClosed(t *testing.T) {
	alice, _ := FromPrivateKeyHex(alicePrivateKey)
	bob, _ := FromPrivateKeyHex(bobPrivateKey)
	digest := eth_crypto.Keccak256Hash([]byte("limit order"))

	good, err := alice.Sign(digest)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	secpN := eth_crypto.S256().Params().N
	highS := new(big.Int).Sub(secpN, new(big.Int).SetBytes(good.S[:]))
	flippedV := uint8(55) - good.V // 27 <-> 28

	tests := []struct {
		name    string
		sig     order.Signature
		claimed common.Address
	}{
		{"wrong signer", good, bob.Address()},
		{"zero claimed maker", good, common.Address{}},
		{"bad recovery id", order.Signature{V: 29, R: good.R, S: good.S}, alice.Address()},
		{"zero r", order.Signature{V: good.V, S: good.S}, alice.Address()},
		{"r equals curve order", order.Signature{V: good.V, R: common.BigToHash(secpN), S: good.S}, alice.Address()},
		{"malleable high s", order.Signature{V: flippedV, R: good.R, S: common.BigToHash(highS)}, alice.Address()},
		{"other digest", good, alice.Address()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := digest
			if tt.name == "other digest" {
				d = eth_crypto.Keccak256Hash([]byte("another order"))
			}
			if Verify(d, tt.sig, tt.claimed) {
				t.Errorf("Verify accepted %s", tt.name)
			}
		})
	}

	if !Verify(digest, good, alice.Address()) {
		t.Fatal("valid signature rejected")
	}
}

func TestKeccak256MatchesGoEthereum(t *testing.T) {
	inputs := [][]byte{nil, {}, []byte("LimitOrder"), make([]byte, 200)}
	for _, in := range inputs {
		if got, want := Keccak256(in), eth_crypto.Keccak256Hash(in); got != want {
			t.Errorf("Keccak256(%x) = %s, want %s", in, got.Hex(), want.Hex())
		}
	}
	if Keccak256([]byte("ab"), []byte("c")) != Keccak256([]byte("abc")) {
		t.Error("Keccak256 should hash the concatenation of its inputs")
	}
}

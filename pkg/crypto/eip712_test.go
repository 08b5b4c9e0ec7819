package crypto

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/uhyunpark/stoplimit/pkg/app/core/order"
)

var testEngine = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")

func testOrder() *order.Order {
	return &order.Order{
		Args: order.Args{
			Maker:         common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
			AmountIn:      big.NewInt(9),
			AmountOut:     big.NewInt(8),
			Recipient:     common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906"),
			StartTime:     big.NewInt(0),
			EndTime:       big.NewInt(4_000_000_000),
			StopPrice:     big.NewInt(100_000_000_000_000_000),
			OracleAddress: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
			OracleData:    []byte{0x01, 0x02},
		},
		TokenIn:  common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		TokenOut: common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0"),
	}
}

func word(b []byte) []byte { return common.LeftPadBytes(b, 32) }

// referenceDigest hand-assembles the typed-data digest word by word.
func referenceDigest(o *order.Order, chainID int64, engine common.Address) common.Hash {
	domainTypeHash := eth_crypto.Keccak256([]byte("EIP712Domain(string name,uint256 chainId,address verifyingContract)"))
	domainSep := eth_crypto.Keccak256(
		domainTypeHash,
		eth_crypto.Keccak256([]byte("LimitOrder")),
		word(big.NewInt(chainID).Bytes()),
		word(engine.Bytes()),
	)
	typeHash := eth_crypto.Keccak256([]byte("LimitOrder(address maker,address tokenIn,address tokenOut,uint256 amountIn,uint256 amountOut,address recipient,uint256 startTime,uint256 endTime,uint256 stopPrice,address oracleAddress,bytes32 oracleData)"))
	structHash := eth_crypto.Keccak256(
		typeHash,
		word(o.Maker.Bytes()),
		word(o.TokenIn.Bytes()),
		word(o.TokenOut.Bytes()),
		word(o.AmountIn.Bytes()),
		word(o.AmountOut.Bytes()),
		word(o.Recipient.Bytes()),
		word(o.StartTime.Bytes()),
		word(o.EndTime.Bytes()),
		word(o.StopPrice.Bytes()),
		word(o.OracleAddress.Bytes()),
		eth_crypto.Keccak256(o.OracleData),
	)
	return eth_crypto.Keccak256Hash([]byte{0x19, 0x01}, domainSep, structHash)
}

func TestHashOrderMatchesReferenceEncoding(t *testing.T) {
	signer := NewEIP712Signer(NewDomain(testEngine, FixedChain(31337)))
	o := testOrder()

	got, err := signer.HashOrder(o)
	if err != nil {
		t.Fatalf("HashOrder: %v", err)
	}
	if want := referenceDigest(o, 31337, testEngine); got != want {
		t.Fatalf("digest = %s, want %s", got.Hex(), want.Hex())
	}

	again, _ := signer.HashOrder(testOrder())
	if again != got {
		t.Fatal("HashOrder is not deterministic")
	}
}

func TestHashOrderSensitiveToEveryField(t *testing.T) {
	signer := NewEIP712Signer(NewDomain(testEngine, FixedChain(1)))
	base, err := signer.HashOrder(testOrder())
	if err != nil {
		t.Fatalf("HashOrder: %v", err)
	}

	other := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	tests := []struct {
		name string
		mut  func(o *order.Order)
	}{
		{"maker", func(o *order.Order) { o.Maker = other }},
		{"tokenIn", func(o *order.Order) { o.TokenIn = other }},
		{"tokenOut", func(o *order.Order) { o.TokenOut = other }},
		{"amountIn", func(o *order.Order) { o.AmountIn = big.NewInt(10) }},
		{"amountOut", func(o *order.Order) { o.AmountOut = big.NewInt(9) }},
		{"recipient", func(o *order.Order) { o.Recipient = other }},
		{"startTime", func(o *order.Order) { o.StartTime = big.NewInt(1) }},
		{"endTime", func(o *order.Order) { o.EndTime = big.NewInt(4_000_000_001) }},
		{"stopPrice", func(o *order.Order) { o.StopPrice = big.NewInt(1) }},
		{"oracleAddress", func(o *order.Order) { o.OracleAddress = common.Address{} }},
		{"oracleData", func(o *order.Order) { o.OracleData = []byte{0x01, 0x03} }},
		{"oracleData empty", func(o *order.Order) { o.OracleData = nil }},
	}

	seen := map[common.Hash]string{base: "base"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := testOrder()
			tt.mut(o)
			h, err := signer.HashOrder(o)
			if err != nil {
				t.Fatalf("HashOrder: %v", err)
			}
			if prev, dup := seen[h]; dup {
				t.Fatalf("digest collides with %s", prev)
			}
			seen[h] = tt.name
		})
	}
}

func TestHashOrderBindsDomain(t *testing.T) {
	o := testOrder()
	chain := int64(1)
	signer := NewEIP712Signer(NewDomain(testEngine, func() *big.Int { return big.NewInt(chain) }))

	onMainnet, _ := signer.HashOrder(o)
	chain = 137
	onPolygon, _ := signer.HashOrder(o)
	if onMainnet == onPolygon {
		t.Fatal("chain id change did not change the digest")
	}
	if onPolygon != referenceDigest(o, 137, testEngine) {
		t.Fatal("chain id was not read at call time")
	}

	otherEngine := NewEIP712Signer(NewDomain(common.HexToAddress("0x01"), FixedChain(137)))
	if h, _ := otherEngine.HashOrder(o); h == onPolygon {
		t.Fatal("engine address change did not change the digest")
	}
}

func TestHashOrderRejectsMissingFields(t *testing.T) {
	signer := NewEIP712Signer(NewDomain(testEngine, FixedChain(1)))
	o := testOrder()
	o.StopPrice = nil
	if _, err := signer.HashOrder(o); err == nil {
		t.Fatal("expected error for nil stopPrice")
	}

	noChain := NewEIP712Signer(Domain{Name: DomainName, VerifyingContract: testEngine})
	if _, err := noChain.HashOrder(testOrder()); err == nil {
		t.Fatal("expected error without a chain id source")
	}
}

func TestSignOrderAndCancel(t *testing.T) {
	alice, _ := FromPrivateKeyHex(alicePrivateKey)
	bob, _ := FromPrivateKeyHex(bobPrivateKey)
	signer := NewEIP712Signer(NewDomain(testEngine, FixedChain(31337)))

	digest, sig, err := signer.SignOrder(alice, testOrder())
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	if !Verify(digest, sig, alice.Address()) {
		t.Fatal("order signature does not verify for maker")
	}
	if Verify(digest, sig, bob.Address()) {
		t.Fatal("order signature verifies for non-maker")
	}

	cancelSig, err := signer.SignCancel(alice, digest)
	if err != nil {
		t.Fatalf("SignCancel: %v", err)
	}
	cancelDigest, _ := signer.HashCancel(digest, alice.Address())
	if cancelDigest == digest {
		t.Fatal("cancel digest must differ from order digest")
	}
	if !Verify(cancelDigest, cancelSig, alice.Address()) {
		t.Fatal("cancel signature does not verify")
	}
	if forged, _ := signer.HashCancel(digest, bob.Address()); Verify(forged, cancelSig, bob.Address()) {
		t.Fatal("cancel signature verifies for another maker")
	}
}

func TestTypedDataJSON(t *testing.T) {
	signer := NewEIP712Signer(NewDomain(testEngine, FixedChain(31337)))
	out, err := signer.TypedDataJSON(testOrder())
	if err != nil {
		t.Fatalf("TypedDataJSON: %v", err)
	}
	for _, want := range []string{`"primaryType": "LimitOrder"`, `"oracleData"`, `"LimitOrder"`} {
		if !bytes.Contains(out, []byte(want)) {
			t.Errorf("typed data JSON missing %s", want)
		}
	}
}

package order

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/stoplimit/pkg/app/core/errs"
)

func sampleArgs() Args {
	return Args{
		Maker:         common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		AmountIn:      big.NewInt(9),
		AmountOut:     big.NewInt(8),
		Recipient:     common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906"),
		StartTime:     big.NewInt(0),
		EndTime:       big.NewInt(4_000_000_000),
		StopPrice:     big.NewInt(100),
		OracleAddress: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		OracleData:    []byte{0xde, 0xad},
	}
}

func TestExpectedOutTruncates(t *testing.T) {
	a := sampleArgs()
	tests := []struct {
		amount int64
		want   int64
	}{
		{9, 8},
		{1, 0}, // 8/9 truncates
		{2, 1},
		{5, 4},
	}
	for _, tt := range tests {
		if got := a.ExpectedOut(big.NewInt(tt.amount)); got.Int64() != tt.want {
			t.Errorf("ExpectedOut(%d) = %s, want %d", tt.amount, got, tt.want)
		}
	}
}

func TestValidateRejectsMissingMagnitudes(t *testing.T) {
	tests := []struct {
		name string
		mut  func(r *FillRequest)
	}{
		{"zero amount", func(r *FillRequest) { r.Amount = big.NewInt(0) }},
		{"nil amount", func(r *FillRequest) { r.Amount = nil }},
		{"zero amountIn", func(r *FillRequest) { r.AmountIn = big.NewInt(0) }},
		{"negative amountOut", func(r *FillRequest) { r.AmountOut = big.NewInt(-1) }},
		{"nil endTime", func(r *FillRequest) { r.EndTime = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &FillRequest{Args: sampleArgs(), Amount: big.NewInt(1)}
			tt.mut(r)
			if err := r.Validate(); !errors.Is(err, errs.InvalidAmount) {
				t.Fatalf("expected InvalidAmount, got %v", err)
			}
		})
	}

	ok := &FillRequest{Args: sampleArgs(), Amount: big.NewInt(1)}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}
}

func TestSignatureBytesNormalisesRecoveryID(t *testing.T) {
	raw := make([]byte, 65)
	raw[0] = 0x11
	raw[32] = 0x22
	raw[64] = 1

	sig, err := SignatureFromBytes(raw)
	if err != nil {
		t.Fatalf("SignatureFromBytes: %v", err)
	}
	if sig.V != 28 {
		t.Errorf("V = %d, want 28", sig.V)
	}
	if sig.R[0] != 0x11 || sig.S[0] != 0x22 {
		t.Errorf("R/S not split correctly")
	}
	if b := sig.Bytes(); b[64] != 28 || b[0] != 0x11 {
		t.Errorf("Bytes() mismatch: %x", b)
	}

	if _, err := SignatureFromBytes(raw[:64]); err == nil {
		t.Errorf("expected error for short signature")
	}
}

func TestPayloadConversion(t *testing.T) {
	req := &FillRequest{Args: sampleArgs(), Amount: big.NewInt(3), Signature: Signature{V: 27}}
	p := FromRequest(req)

	back, err := p.ToRequest()
	if err != nil {
		t.Fatalf("ToRequest: %v", err)
	}
	if back.Maker != req.Maker || back.AmountIn.Cmp(req.AmountIn) != 0 || string(back.OracleData) != string(req.OracleData) {
		t.Errorf("payload conversion lost fields: %+v", back.Args)
	}

	p.Order.AmountIn = "nine"
	if _, err := p.ToRequest(); err == nil {
		t.Errorf("expected error for non-numeric amount_in")
	}
	p = FromRequest(req)
	p.Order.Maker = "alice"
	if _, err := p.ToRequest(); err == nil {
		t.Errorf("expected error for malformed maker")
	}
}

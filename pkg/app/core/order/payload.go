package order

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ArgsPayload is the wire form of Args. Magnitudes are decimal strings.
type ArgsPayload struct {
	Maker         string `json:"maker"`          // 0x address
	AmountIn      string `json:"amount_in"`      // BigInt as string
	AmountOut     string `json:"amount_out"`     // BigInt as string
	Recipient     string `json:"recipient"`      // 0x address
	StartTime     string `json:"start_time"`     // unix seconds
	EndTime       string `json:"end_time"`       // unix seconds
	StopPrice     string `json:"stop_price"`     // BigInt as string
	OracleAddress string `json:"oracle_address"` // 0x address, zero = none
	OracleData    string `json:"oracle_data"`    // 0x hex, may be empty
}

// FillRequestPayload is the wire form of FillRequest.
type FillRequestPayload struct {
	Order     ArgsPayload `json:"order"`
	Amount    string      `json:"amount"`    // BigInt as string
	Signature string      `json:"signature"` // 0x hex, 65 bytes
}

func parseBig(name, s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing %s", name)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s: %s", name, s)
	}
	return v, nil
}

func parseAddress(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid %s: %q", name, s)
	}
	return common.HexToAddress(s), nil
}

// ToArgs converts the payload, rejecting malformed numbers and addresses.
func (p *ArgsPayload) ToArgs() (*Args, error) {
	maker, err := parseAddress("maker", p.Maker)
	if err != nil {
		return nil, err
	}
	recipient, err := parseAddress("recipient", p.Recipient)
	if err != nil {
		return nil, err
	}
	oracle := common.Address{}
	if p.OracleAddress != "" {
		if oracle, err = parseAddress("oracle_address", p.OracleAddress); err != nil {
			return nil, err
		}
	}

	a := &Args{Maker: maker, Recipient: recipient, OracleAddress: oracle}
	nums := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"amount_in", p.AmountIn, &a.AmountIn},
		{"amount_out", p.AmountOut, &a.AmountOut},
		{"start_time", p.StartTime, &a.StartTime},
		{"end_time", p.EndTime, &a.EndTime},
		{"stop_price", p.StopPrice, &a.StopPrice},
	}
	for _, n := range nums {
		v, err := parseBig(n.name, n.raw)
		if err != nil {
			return nil, err
		}
		*n.dst = v
	}

	if p.OracleData != "" && p.OracleData != "0x" {
		data, err := hexutil.Decode(p.OracleData)
		if err != nil {
			return nil, fmt.Errorf("invalid oracle_data: %w", err)
		}
		a.OracleData = data
	}
	return a, nil
}

// FromArgs converts Args to its wire form.
func FromArgs(a *Args) ArgsPayload {
	return ArgsPayload{
		Maker:         a.Maker.Hex(),
		AmountIn:      a.AmountIn.String(),
		AmountOut:     a.AmountOut.String(),
		Recipient:     a.Recipient.Hex(),
		StartTime:     a.StartTime.String(),
		EndTime:       a.EndTime.String(),
		StopPrice:     a.StopPrice.String(),
		OracleAddress: a.OracleAddress.Hex(),
		OracleData:    hexutil.Encode(a.OracleData),
	}
}

func (p *FillRequestPayload) ToRequest() (*FillRequest, error) {
	args, err := p.Order.ToArgs()
	if err != nil {
		return nil, err
	}
	amount, err := parseBig("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	raw, err := hexutil.Decode(p.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}
	sig, err := SignatureFromBytes(raw)
	if err != nil {
		return nil, err
	}
	return &FillRequest{Args: *args, Amount: amount, Signature: sig}, nil
}

func FromRequest(r *FillRequest) FillRequestPayload {
	return FillRequestPayload{
		Order:     FromArgs(&r.Args),
		Amount:    r.Amount.String(),
		Signature: hexutil.Encode(r.Signature.Bytes()),
	}
}

// DecodeFillRequest parses a JSON fill request.
func DecodeFillRequest(data []byte) (*FillRequest, error) {
	var p FillRequestPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fill request: %w", err)
	}
	return p.ToRequest()
}

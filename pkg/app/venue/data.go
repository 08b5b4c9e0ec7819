package venue

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	addressT, _      = abi.NewType("address", "", nil)
	addressSliceT, _ = abi.NewType("address[]", "", nil)
	uint256T, _      = abi.NewType("uint256", "", nil)

	swapDataArgs = abi.Arguments{{Name: "path", Type: addressSliceT}, {Name: "minimumOut", Type: uint256T}, {Name: "to", Type: addressT}}
	pairDataArgs = abi.Arguments{{Name: "base", Type: addressT}, {Name: "quote", Type: addressT}}
)

// SwapData is the filler data a SwapFiller expects: the swap path from tokenIn to tokenOut, the
// minimum profit it must keep and where that profit goes.
type SwapData struct {
	Path       []common.Address
	MinimumOut *big.Int
	To         common.Address
}

func EncodeSwapData(d SwapData) ([]byte, error) {
	minOut := d.MinimumOut
	if minOut == nil {
		minOut = new(big.Int)
	}
	return swapDataArgs.Pack(d.Path, minOut, d.To)
}

func DecodeSwapData(data []byte) (SwapData, error) {
	vals, err := swapDataArgs.Unpack(data)
	if err != nil {
		return SwapData{}, fmt.Errorf("decode swap data: %w", err)
	}
	path, ok1 := vals[0].([]common.Address)
	minOut, ok2 := vals[1].(*big.Int)
	to, ok3 := vals[2].(common.Address)
	if !ok1 || !ok2 || !ok3 {
		return SwapData{}, fmt.Errorf("decode swap data: unexpected value types")
	}
	return SwapData{Path: path, MinimumOut: minOut, To: to}, nil
}

// EncodePair builds oracle data naming a base/quote pair for SpotOracle.
func EncodePair(base, quote common.Address) ([]byte, error) {
	return pairDataArgs.Pack(base, quote)
}

func DecodePair(data []byte) (base, quote common.Address, err error) {
	vals, err := pairDataArgs.Unpack(data)
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("decode pair: %w", err)
	}
	base, ok1 := vals[0].(common.Address)
	quote, ok2 := vals[1].(common.Address)
	if !ok1 || !ok2 {
		return common.Address{}, common.Address{}, fmt.Errorf("decode pair: unexpected value types")
	}
	return base, quote, nil
}

package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/uhyunpark/stoplimit/pkg/app/core/order"
)

// DomainName is the EIP-712 domain name orders are signed under.
const DomainName = "LimitOrder"

// Domain binds digests to one engine instance on one chain.
// ChainID is consulted on every hash so a chain switch is picked up immediately.
type Domain struct {
	Name              string
	ChainID           func() *big.Int
	VerifyingContract common.Address
}

// NewDomain returns a LimitOrder domain for the given engine and chain source.
func NewDomain(engine common.Address, chainID func() *big.Int) Domain {
	return Domain{Name: DomainName, ChainID: chainID, VerifyingContract: engine}
}

// FixedChain returns a chain source that always reports id.
func FixedChain(id int64) func() *big.Int {
	return func() *big.Int { return big.NewInt(id) }
}

var (
	domainFields = []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}
	limitOrderFields = []apitypes.Type{
		{Name: "maker", Type: "address"},
		{Name: "tokenIn", Type: "address"},
		{Name: "tokenOut", Type: "address"},
		{Name: "amountIn", Type: "uint256"},
		{Name: "amountOut", Type: "uint256"},
		{Name: "recipient", Type: "address"},
		{Name: "startTime", Type: "uint256"},
		{Name: "endTime", Type: "uint256"},
		{Name: "stopPrice", Type: "uint256"},
		{Name: "oracleAddress", Type: "address"},
		{Name: "oracleData", Type: "bytes32"},
	}
	cancelOrderFields = []apitypes.Type{
		{Name: "digest", Type: "bytes32"},
		{Name: "maker", Type: "address"},
	}
)

// EIP712Signer computes typed-data digests for orders and cancellations.
type EIP712Signer struct {
	domain Domain
}

func NewEIP712Signer(domain Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() Domain { return e.domain }

// ChainID reads the current chain identity from the domain.
func (e *EIP712Signer) ChainID() (*big.Int, error) {
	if e.domain.ChainID == nil {
		return nil, fmt.Errorf("domain has no chain id source")
	}
	id := e.domain.ChainID()
	if id == nil || id.Sign() < 0 {
		return nil, fmt.Errorf("invalid chain id %v", id)
	}
	return id, nil
}

func (e *EIP712Signer) typedData(primary string, fields []apitypes.Type, msg apitypes.TypedDataMessage) (*apitypes.TypedData, error) {
	chainID, err := e.ChainID()
	if err != nil {
		return nil, err
	}
	return &apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainFields,
			primary:        fields,
		},
		PrimaryType: primary,
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: msg,
	}, nil
}

// digest computes keccak256("\x19\x01" || domainSeparator || hashStruct(message)).
func digest(td *apitypes.TypedData) (common.Hash, error) {
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash message: %w", err)
	}
	return Keccak256([]byte{0x19, 0x01}, domainSeparator, structHash), nil
}

// DomainSeparator returns the hash of the current domain.
func (e *EIP712Signer) DomainSeparator() (common.Hash, error) {
	td, err := e.typedData("CancelOrder", cancelOrderFields, nil)
	if err != nil {
		return common.Hash{}, err
	}
	sep, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	return common.BytesToHash(sep), nil
}

func decimal(name string, v *big.Int) (string, error) {
	if v == nil || v.Sign() < 0 {
		return "", fmt.Errorf("order field %s must be a non-negative integer", name)
	}
	return v.String(), nil
}

func orderMessage(o *order.Order) (apitypes.TypedDataMessage, error) {
	msg := apitypes.TypedDataMessage{
		"maker":         o.Maker.Hex(),
		"tokenIn":       o.TokenIn.Hex(),
		"tokenOut":      o.TokenOut.Hex(),
		"recipient":     o.Recipient.Hex(),
		"oracleAddress": o.OracleAddress.Hex(),
		"oracleData":    Keccak256(o.OracleData).Hex(),
	}
	nums := []struct {
		key string
		v   *big.Int
	}{
		{"amountIn", o.AmountIn},
		{"amountOut", o.AmountOut},
		{"startTime", o.StartTime},
		{"endTime", o.EndTime},
		{"stopPrice", o.StopPrice},
	}
	for _, n := range nums {
		s, err := decimal(n.key, n.v)
		if err != nil {
			return nil, err
		}
		msg[n.key] = s
	}
	return msg, nil
}

// HashOrder returns the digest identifying o under the signer's domain. The opaque oracle
// data is hashed before inclusion.
func (e *EIP712Signer) HashOrder(o *order.Order) (common.Hash, error) {
	msg, err := orderMessage(o)
	if err != nil {
		return common.Hash{}, err
	}
	td, err := e.typedData("LimitOrder", limitOrderFields, msg)
	if err != nil {
		return common.Hash{}, err
	}
	return digest(td)
}

// SignOrder hashes and signs o.
func (e *EIP712Signer) SignOrder(s *Signer, o *order.Order) (common.Hash, order.Signature, error) {
	h, err := e.HashOrder(o)
	if err != nil {
		return common.Hash{}, order.Signature{}, fmt.Errorf("failed to hash order: %w", err)
	}
	sig, err := s.Sign(h)
	if err != nil {
		return common.Hash{}, order.Signature{}, err
	}
	return h, sig, nil
}

// HashCancel returns the digest a maker signs to authorise cancelling orderDigest.
func (e *EIP712Signer) HashCancel(orderDigest common.Hash, maker common.Address) (common.Hash, error) {
	td, err := e.typedData("CancelOrder", cancelOrderFields, apitypes.TypedDataMessage{
		"digest": orderDigest.Hex(),
		"maker":  maker.Hex(),
	})
	if err != nil {
		return common.Hash{}, err
	}
	return digest(td)
}

// SignCancel signs a cancellation of orderDigest on behalf of s.
func (e *EIP712Signer) SignCancel(s *Signer, orderDigest common.Hash) (order.Signature, error) {
	h, err := e.HashCancel(orderDigest, s.Address())
	if err != nil {
		return order.Signature{}, err
	}
	return s.Sign(h)
}

// TypedDataJSON renders o as an eth_signTypedData_v4 payload for wallets. The oracleData
// member already holds keccak256 of the raw bytes.
func (e *EIP712Signer) TypedDataJSON(o *order.Order) ([]byte, error) {
	msg, err := orderMessage(o)
	if err != nil {
		return nil, err
	}
	td, err := e.typedData("LimitOrder", limitOrderFields, msg)
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(td, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal typed data: %w", err)
	}
	return out, nil
}

package api

import (
	"encoding/json"

	"github.com/uhyunpark/stoplimit/pkg/app/core/errs"
	"github.com/uhyunpark/stoplimit/pkg/app/core/order"
)

// API request and response types for REST endpoints and WebSocket messages

// ==============================
// REST Request Types
// ==============================

// FillRequest is the payload for POST /api/v1/fills and /fills/open
type FillRequest struct {
	TokenIn    string                   `json:"token_in"`
	TokenOut   string                   `json:"token_out"`
	Filler     string                   `json:"filler"`      // registered filler address
	FillerData string                   `json:"filler_data"` // 0x hex, passed to the filler untouched
	Request    order.FillRequestPayload `json:"request"`
}

// BatchFillRequest is the payload for POST /api/v1/fills/batch and /fills/batch/open
type BatchFillRequest struct {
	TokenIn    string                     `json:"token_in"`
	TokenOut   string                     `json:"token_out"`
	Filler     string                     `json:"filler"`
	FillerData string                     `json:"filler_data"`
	Requests   []order.FillRequestPayload `json:"requests"`
}

// DigestRequest is the payload for POST /api/v1/orders/digest
type DigestRequest struct {
	TokenIn  string            `json:"token_in"`
	TokenOut string            `json:"token_out"`
	Order    order.ArgsPayload `json:"order"`
}

// StatusRequest is the payload for POST /api/v1/orders/status
type StatusRequest struct {
	Digests []string `json:"digests"`
}

// CancelRequest is the payload for POST /api/v1/orders/cancel. Signature is the maker's
// EIP-712 signature over CancelOrder(digest, maker).
type CancelRequest struct {
	TokenIn   string            `json:"token_in"`
	TokenOut  string            `json:"token_out"`
	Order     order.ArgsPayload `json:"order"`
	Signature string            `json:"signature"`
}

// ==============================
// REST Response Types
// ==============================

// FillInfo is one committed order fill
type FillInfo struct {
	Digest      string `json:"digest"`
	Maker       string `json:"maker"`
	Recipient   string `json:"recipient"`
	Amount      string `json:"amount"`
	ExpectedOut string `json:"expected_out"`
	Fee         string `json:"fee"`
}

// FillResponse describes a committed settlement call
type FillResponse struct {
	Mode     string     `json:"mode"` // "single", "open", "batch", "batch_open"
	Filler   string     `json:"filler"`
	TokenIn  string     `json:"token_in"`
	TokenOut string     `json:"token_out"`
	Fee      string     `json:"fee"`
	Fills    []FillInfo `json:"fills"`
}

// DigestResponse carries an order digest and the typed data a wallet signs for it
type DigestResponse struct {
	Digest    string          `json:"digest"`
	TypedData json.RawMessage `json:"typed_data"`
}

// OrderStatus is the fill record of one digest
type OrderStatus struct {
	Digest    string `json:"digest"`
	Filled    string `json:"filled"`
	Cancelled bool   `json:"cancelled"`
}

// CancelResponse is the response from a cancel request
type CancelResponse struct {
	Status string `json:"status"` // "cancelled"
	Digest string `json:"digest"`
}

// ConfigInfo is the current engine configuration
type ConfigInfo struct {
	Engine       string   `json:"engine"`
	ChainID      string   `json:"chain_id"`
	Owner        string   `json:"owner"`
	PendingOwner string   `json:"pending_owner"`
	FeeRecipient string   `json:"fee_recipient"`
	FeeNumerator uint64   `json:"fee_numerator"`
	FeeDivisor   uint64   `json:"fee_divisor"`
	Comparison   string   `json:"comparison"` // stop trigger rule, e.g. "above"
	Whitelist    []string `json:"whitelist"`
}

// FillerInfo reports whether an address can fill
type FillerInfo struct {
	Address     string `json:"address"`
	Whitelisted bool   `json:"whitelisted"`
	Registered  bool   `json:"registered"` // a filler implementation is loaded on this node
}

// BalanceInfo is a vault balance
type BalanceInfo struct {
	Token   string `json:"token"`
	Owner   string `json:"owner"`
	Balance string `json:"balance"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      errs.Code `json:"code,omitempty"` // rejection code, encoded by name, e.g. "overfilled"
	Digest    string    `json:"digest,omitempty"`
	Retriable bool      `json:"retriable"`
	Message   string    `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["events", "fill", "digest:0x..."]
}

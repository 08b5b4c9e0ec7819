// Package errs defines the rejection codes a settlement call can fail with.
//
// Every Code is itself an error, so callers can match with errors.Is(err, errs.Overfilled)
// regardless of how much context has been wrapped around it.
package errs

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

type Code uint8

const (
	Unknown Code = iota
	Expired
	NotStarted
	FillerNotWhitelisted
	MakerMismatch
	StopNotReached
	Overfilled
	OrderCancelled
	InsufficientProceeds
	InsufficientFee
	InvalidAmount
	NotOwner
	NotMaker
	Underflow
	OracleFailure
	UnknownOracle
	CustodyFailed
	FillerFailed
	InvalidOwner
)

var codeNames = map[Code]string{
	Unknown:              "unknown",
	Expired:              "expired",
	NotStarted:           "not_started",
	FillerNotWhitelisted: "filler_not_whitelisted",
	MakerMismatch:        "maker_mismatch",
	StopNotReached:       "stop_not_reached",
	Overfilled:           "overfilled",
	OrderCancelled:       "order_cancelled",
	InsufficientProceeds: "insufficient_proceeds",
	InsufficientFee:      "insufficient_fee",
	InvalidAmount:        "invalid_amount",
	NotOwner:             "not_owner",
	NotMaker:             "not_maker",
	Underflow:            "underflow",
	OracleFailure:        "oracle_failure",
	UnknownOracle:        "unknown_oracle",
	CustodyFailed:        "custody_failed",
	FillerFailed:         "filler_failed",
	InvalidOwner:         "invalid_owner",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", uint8(c))
}

func (c Code) Error() string { return c.String() }

// Retriable reports whether the same call may succeed later without changing the order.
func (c Code) Retriable() bool {
	switch c {
	case NotStarted, StopNotReached, InsufficientProceeds, InsufficientFee,
		OracleFailure, CustodyFailed, FillerFailed:
		return true
	}
	return false
}

// parseCode maps a code name back to its value. Unknown names map to Unknown.
func parseCode(s string) Code {
	for c, name := range codeNames {
		if name == s {
			return c
		}
	}
	return Unknown
}

// MarshalText encodes c by name, so JSON carries "overfilled" rather than a number.
func (c Code) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Code) UnmarshalText(b []byte) error {
	*c = parseCode(string(b))
	return nil
}

// Error is a rejection bound to the order digest it concerns.
type Error struct {
	Code   Code
	Digest common.Hash
	Cause  error
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Digest != (common.Hash{}) {
		msg += " [" + e.Digest.Hex() + "]"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Code}
	}
	return []error{e.Code, e.Cause}
}

func New(code Code, digest common.Hash) *Error {
	return &Error{Code: code, Digest: digest}
}

func Wrap(code Code, digest common.Hash, cause error) *Error {
	return &Error{Code: code, Digest: digest, Cause: cause}
}

func Errorf(code Code, digest common.Hash, format string, args ...any) *Error {
	return &Error{Code: code, Digest: digest, Cause: fmt.Errorf(format, args...)}
}

// CodeOf extracts the rejection code carried by err, or Unknown.
func CodeOf(err error) Code {
	if err == nil {
		return Unknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Unknown
}

// DigestOf returns the digest attached to err, if any.
func DigestOf(err error) (common.Hash, bool) {
	var e *Error
	if errors.As(err, &e) && e.Digest != (common.Hash{}) {
		return e.Digest, true
	}
	return common.Hash{}, false
}

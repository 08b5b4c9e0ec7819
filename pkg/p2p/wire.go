package p2p

import (
	"bytes"
	"encoding/gob"

	"github.com/uhyunpark/stoplimit/pkg/app/core/settlement"
)

func init() {
	gob.Register(settlement.FillEvent{})
	gob.Register(settlement.CancelEvent{})
	gob.Register(settlement.FeesEvent{})
	gob.Register(settlement.WhitelistEvent{})
	gob.Register(settlement.OwnershipEvent{})
	gob.Register(settlement.SweepEvent{})
}

// EventWire is a settlement event as gossiped between peers
type EventWire struct {
	Origin string // peer ID of the publishing node
	Event  settlement.Event
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

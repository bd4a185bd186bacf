package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// EventKind identifies the active variant of an IndexEvent.
type EventKind uint8

const (
	KindUnknown EventKind = iota
	KindAccount
	KindTransaction
	KindSlot
	KindBlock
)

// Wire names. The active variant is the single top-level key of the JSON object.
const (
	variantAccount     = "Account"
	variantTransaction = "Transaction"
	variantSlot        = "Slot"
	variantBlock       = "Block"
)

func (k EventKind) String() string {
	switch k {
	case KindAccount:
		return variantAccount
	case KindTransaction:
		return variantTransaction
	case KindSlot:
		return variantSlot
	case KindBlock:
		return variantBlock
	default:
		return "Unknown"
	}
}

var (
	// ErrEmptyEvent is returned when encoding a zero IndexEvent; no variant is ever emitted implicitly.
	ErrEmptyEvent = errors.New("index event has no variant")
	// ErrUnknownVariant is returned when a payload carries no variant this build understands.
	ErrUnknownVariant = errors.New("unknown index event variant")
	// ErrAmbiguousEvent is returned when a payload carries more than one variant.
	ErrAmbiguousEvent = errors.New("index event carries more than one variant")
)

// IndexEvent is the transport envelope between the ingest and persist drivers.
// Exactly one variant is populated; construct it with AccountEvent, TransactionEvent, SlotEvent or BlockEvent.
type IndexEvent struct {
	kind        EventKind
	account     AccountSnapshot
	transaction TxRecord
	slot        uint64
	block       json.RawMessage
}

func AccountEvent(a AccountSnapshot) IndexEvent {
	return IndexEvent{kind: KindAccount, account: a}
}

func TransactionEvent(t TxRecord) IndexEvent {
	return IndexEvent{kind: KindTransaction, transaction: t}
}

func SlotEvent(slot uint64) IndexEvent {
	return IndexEvent{kind: KindSlot, slot: slot}
}

// BlockEvent wraps an opaque block payload. An empty payload encodes as JSON null.
func BlockEvent(raw json.RawMessage) IndexEvent {
	return IndexEvent{kind: KindBlock, block: raw}
}

func (e IndexEvent) Kind() EventKind { return e.kind }

func (e IndexEvent) Account() (AccountSnapshot, bool) {
	return e.account, e.kind == KindAccount
}

func (e IndexEvent) Transaction() (TxRecord, bool) {
	return e.transaction, e.kind == KindTransaction
}

func (e IndexEvent) Slot() (uint64, bool) {
	return e.slot, e.kind == KindSlot
}

func (e IndexEvent) Block() (json.RawMessage, bool) {
	return e.block, e.kind == KindBlock
}

// MarshalJSON emits {"<Variant>": <value>}.
func (e IndexEvent) MarshalJSON() ([]byte, error) {
	var (
		value any
		name  = e.kind.String()
	)
	switch e.kind {
	case KindAccount:
		value = e.account
	case KindTransaction:
		value = e.transaction
	case KindSlot:
		value = e.slot
	case KindBlock:
		if len(e.block) == 0 {
			value = json.RawMessage("null")
		} else {
			value = e.block
		}
	default:
		return nil, ErrEmptyEvent
	}
	return json.Marshal(map[string]any{name: value})
}

// UnmarshalJSON accepts exactly one known variant key. Unknown keys next to a known
// variant are ignored; a payload with only unknown keys fails with ErrUnknownVariant.
func (e *IndexEvent) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode index event: %w", err)
	}

	var (
		found EventKind
		raw   json.RawMessage
	)
	for name, value := range fields {
		kind := kindFromName(name)
		if kind == KindUnknown {
			continue
		}
		if found != KindUnknown {
			return ErrAmbiguousEvent
		}
		found, raw = kind, value
	}

	out := IndexEvent{kind: found}
	switch found {
	case KindAccount:
		if err := json.Unmarshal(raw, &out.account); err != nil {
			return fmt.Errorf("decode %s: %w", variantAccount, err)
		}
	case KindTransaction:
		if err := json.Unmarshal(raw, &out.transaction); err != nil {
			return fmt.Errorf("decode %s: %w", variantTransaction, err)
		}
	case KindSlot:
		if err := json.Unmarshal(raw, &out.slot); err != nil {
			return fmt.Errorf("decode %s: %w", variantSlot, err)
		}
	case KindBlock:
		if !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			out.block = append(json.RawMessage(nil), raw...)
		}
	default:
		return ErrUnknownVariant
	}

	*e = out
	return nil
}

// EncodeEvent is the queue payload encoding.
func EncodeEvent(e IndexEvent) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses a queue payload.
func DecodeEvent(payload []byte) (IndexEvent, error) {
	var e IndexEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return IndexEvent{}, err
	}
	return e, nil
}

func kindFromName(name string) EventKind {
	switch name {
	case variantAccount:
		return KindAccount
	case variantTransaction:
		return KindTransaction
	case variantSlot:
		return KindSlot
	case variantBlock:
		return KindBlock
	default:
		return KindUnknown
	}
}

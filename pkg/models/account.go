package models

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// AccountSnapshot is one observed state of one on-chain account at one slot.
// Storage keys it by Pubkey alone, so a later write for the same account overwrites an earlier one.
type AccountSnapshot struct {
	Pubkey     string `json:"pubkey"` // base58
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"` // base58 program id
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rent_epoch"`
	// Data is base64 account data. It is cleared before persisting and does not round-trip through storage.
	Data         string  `json:"data"`
	WriteVersion uint64  `json:"write_version"`
	Slot         uint64  `json:"slot"`
	TxnSignature *string `json:"txn_signature"` // base58, nil for non-transactional writes
	// Timestamp is when the update was observed, not chain time.
	Timestamp time.Time `json:"timestamp"`
}

// MarshalLogObject keeps log lines to the identifying fields; Data can be megabytes.
func (a AccountSnapshot) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("pubkey", a.Pubkey)
	enc.AddUint64("lamports", a.Lamports)
	enc.AddString("owner", a.Owner)
	enc.AddBool("executable", a.Executable)
	enc.AddUint64("slot", a.Slot)
	enc.AddUint64("write_version", a.WriteVersion)
	if a.TxnSignature != nil {
		enc.AddString("txn_signature", *a.TxnSignature)
	}
	return nil
}

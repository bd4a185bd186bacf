package models

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// TxRecord is one observed transaction, keyed by Signature.
//
// When the firehose omits the inner transaction or its metadata the record is still produced:
// Success is false, Fee and ComputeUnitsConsumed are nil and every sequence is empty.
type TxRecord struct {
	Signature            string                   `json:"signature"`
	Slot                 uint64                   `json:"slot"`
	IsVote               bool                     `json:"is_vote"`
	Index                uint64                   `json:"index"`
	Success              bool                     `json:"success"`
	Fee                  *uint64                  `json:"fee"`
	ComputeUnitsConsumed *uint64                  `json:"compute_units_consumed"`
	Instructions         []TransactionInstruction `json:"instructions"`
	AccountKeys          []string                 `json:"account_keys"`
	LogMessages          []string                 `json:"log_messages"`
	PreBalances          []uint64                 `json:"pre_balances"`
	PostBalances         []uint64                 `json:"post_balances"`
	Timestamp            time.Time                `json:"timestamp"`
}

// TransactionInstruction is a top-level instruction with its account indices resolved against AccountKeys.
type TransactionInstruction struct {
	ProgramID string   `json:"program_id"` // empty when the index was out of range
	Accounts  []string `json:"accounts"`   // out-of-range indices are omitted
	Data      string   `json:"data"`       // base64
}

func (t TxRecord) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("signature", t.Signature)
	enc.AddUint64("slot", t.Slot)
	enc.AddUint64("index", t.Index)
	enc.AddBool("success", t.Success)
	enc.AddBool("is_vote", t.IsVote)
	enc.AddInt("instructions", len(t.Instructions))
	if t.Fee != nil {
		enc.AddUint64("fee", *t.Fee)
	}
	return nil
}

// Uint64Ptr is a small helper for the optional numeric fields.
func Uint64Ptr(v uint64) *uint64 { return &v }

// StringPtr is a small helper for the optional string fields.
func StringPtr(v string) *string { return &v }

// Package normalizer turns raw firehose updates into domain events.
//
// Normalization never fails on malformed index data: an instruction whose program index
// is out of range resolves to an empty program id, and out-of-range account indices are
// dropped. A transaction missing its inner transaction or its status metadata still
// produces a record, with Success false, no fee and empty collections.
package normalizer

import (
	"encoding/base64"
	"time"

	"github.com/canopy-network/geyserx/pkg/firehose"
	"github.com/canopy-network/geyserx/pkg/models"
	"github.com/mr-tron/base58"
)

// Normalizer is stateless apart from its clock.
type Normalizer struct {
	now func() time.Time
}

func New() *Normalizer {
	return &Normalizer{now: time.Now}
}

// WithClock returns a copy that stamps events with now. Used by tests.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	return &Normalizer{now: now}
}

// Normalize returns the event for update, or false when the update carries nothing
// to index (ping frames, account/transaction frames without their inner payload).
func (n *Normalizer) Normalize(update *firehose.SubscribeUpdate) (models.IndexEvent, bool) {
	if update == nil {
		return models.IndexEvent{}, false
	}
	switch {
	case update.Account != nil:
		acc, ok := n.Account(update.Account)
		if !ok {
			return models.IndexEvent{}, false
		}
		return models.AccountEvent(acc), true
	case update.Transaction != nil:
		tx, ok := n.Transaction(update.Transaction)
		if !ok {
			return models.IndexEvent{}, false
		}
		return models.TransactionEvent(tx), true
	case update.Slot != nil:
		return models.SlotEvent(update.Slot.Slot), true
	case len(update.Block) > 0:
		return models.BlockEvent(update.Block), true
	default:
		return models.IndexEvent{}, false
	}
}

// Account converts an account update. It returns false when the inner account is absent.
func (n *Normalizer) Account(update *firehose.SubscribeUpdateAccount) (models.AccountSnapshot, bool) {
	if update == nil || update.Account == nil {
		return models.AccountSnapshot{}, false
	}
	info := update.Account

	var sig *string
	if len(info.TxnSignature) > 0 {
		s := base58.Encode(info.TxnSignature)
		sig = &s
	}

	return models.AccountSnapshot{
		Pubkey:       base58.Encode(info.Pubkey),
		Lamports:     info.Lamports,
		Owner:        base58.Encode(info.Owner),
		Executable:   info.Executable,
		RentEpoch:    info.RentEpoch,
		Data:         base64.StdEncoding.EncodeToString(info.Data),
		WriteVersion: info.WriteVersion,
		Slot:         update.Slot,
		TxnSignature: sig,
		Timestamp:    n.now().UTC(),
	}, true
}

// Transaction converts a transaction update. It returns false when the inner transaction info is absent.
func (n *Normalizer) Transaction(update *firehose.SubscribeUpdateTransaction) (models.TxRecord, bool) {
	if update == nil || update.Transaction == nil {
		return models.TxRecord{}, false
	}
	info := update.Transaction

	rec := models.TxRecord{
		Signature:    base58.Encode(info.Signature),
		Slot:         update.Slot,
		IsVote:       info.IsVote,
		Index:        info.Index,
		Instructions: []models.TransactionInstruction{},
		AccountKeys:  []string{},
		LogMessages:  []string{},
		PreBalances:  []uint64{},
		PostBalances: []uint64{},
		Timestamp:    n.now().UTC(),
	}

	// Fields are filled only when both halves arrived; a partial frame keeps every default.
	if info.Transaction == nil || info.Meta == nil {
		return rec, true
	}

	if msg := info.Transaction.Message; msg != nil {
		rec.AccountKeys = encodeKeys(msg.AccountKeys)
		rec.Instructions = resolveInstructions(msg.Instructions, rec.AccountKeys)
	}

	meta := info.Meta
	rec.Success = meta.Err == nil
	rec.Fee = models.Uint64Ptr(meta.Fee)
	if meta.ComputeUnitsConsumed != nil {
		rec.ComputeUnitsConsumed = models.Uint64Ptr(*meta.ComputeUnitsConsumed)
	}
	rec.LogMessages = append(rec.LogMessages, meta.LogMessages...)
	rec.PreBalances = append(rec.PreBalances, meta.PreBalances...)
	rec.PostBalances = append(rec.PostBalances, meta.PostBalances...)

	return rec, true
}

func encodeKeys(keys [][]byte) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, base58.Encode(k))
	}
	return out
}

func resolveInstructions(raw []firehose.CompiledInstruction, keys []string) []models.TransactionInstruction {
	out := make([]models.TransactionInstruction, 0, len(raw))
	for _, ix := range raw {
		programID := ""
		if int(ix.ProgramIDIndex) < len(keys) {
			programID = keys[ix.ProgramIDIndex]
		}
		accounts := make([]string, 0, len(ix.Accounts))
		for _, idx := range ix.Accounts {
			if int(idx) < len(keys) {
				accounts = append(accounts, keys[idx])
			}
		}
		out = append(out, models.TransactionInstruction{
			ProgramID: programID,
			Accounts:  accounts,
			Data:      base64.StdEncoding.EncodeToString(ix.Data),
		})
	}
	return out
}

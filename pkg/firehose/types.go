package firehose

import "encoding/json"

// SubscribeUpdate is one frame of the firehose stream. At most one of the payload
// fields is set; Filters names the subscription filters the update matched.
//
// Binary fields ([]byte) travel as base64 strings in the JSON frames.
type SubscribeUpdate struct {
	Filters     []string                    `json:"filters,omitempty"`
	Account     *SubscribeUpdateAccount     `json:"account,omitempty"`
	Transaction *SubscribeUpdateTransaction `json:"transaction,omitempty"`
	Slot        *SubscribeUpdateSlot        `json:"slot,omitempty"`
	Block       json.RawMessage             `json:"block,omitempty"`
	Ping        *SubscribeUpdatePing        `json:"ping,omitempty"`
}

type SubscribeUpdateAccount struct {
	Account   *SubscribeUpdateAccountInfo `json:"account,omitempty"`
	Slot      uint64                      `json:"slot"`
	IsStartup bool                        `json:"is_startup"`
}

type SubscribeUpdateAccountInfo struct {
	Pubkey       []byte `json:"pubkey"`
	Lamports     uint64 `json:"lamports"`
	Owner        []byte `json:"owner"`
	Executable   bool   `json:"executable"`
	RentEpoch    uint64 `json:"rent_epoch"`
	Data         []byte `json:"data"`
	WriteVersion uint64 `json:"write_version"`
	TxnSignature []byte `json:"txn_signature,omitempty"`
}

type SubscribeUpdateTransaction struct {
	Transaction *SubscribeUpdateTransactionInfo `json:"transaction,omitempty"`
	Slot        uint64                          `json:"slot"`
}

type SubscribeUpdateTransactionInfo struct {
	Signature   []byte                 `json:"signature"`
	IsVote      bool                   `json:"is_vote"`
	Transaction *Transaction           `json:"transaction,omitempty"`
	Meta        *TransactionStatusMeta `json:"meta,omitempty"`
	Index       uint64                 `json:"index"`
}

type Transaction struct {
	Signatures [][]byte `json:"signatures"`
	Message    *Message `json:"message,omitempty"`
}

type Message struct {
	AccountKeys     [][]byte              `json:"account_keys"`
	RecentBlockhash []byte                `json:"recent_blockhash,omitempty"`
	Instructions    []CompiledInstruction `json:"instructions"`
}

// CompiledInstruction references the message's account key table by index.
type CompiledInstruction struct {
	ProgramIDIndex uint32 `json:"program_id_index"`
	Accounts       []byte `json:"accounts"` // one index per byte
	Data           []byte `json:"data"`
}

type TransactionStatusMeta struct {
	Err                  *TransactionError `json:"err,omitempty"`
	Fee                  uint64            `json:"fee"`
	PreBalances          []uint64          `json:"pre_balances"`
	PostBalances         []uint64          `json:"post_balances"`
	LogMessages          []string          `json:"log_messages"`
	ComputeUnitsConsumed *uint64           `json:"compute_units_consumed,omitempty"`
}

// TransactionError is the serialized execution error; only its presence matters here.
type TransactionError struct {
	Err []byte `json:"err"`
}

type SubscribeUpdateSlot struct {
	Slot   uint64  `json:"slot"`
	Parent *uint64 `json:"parent,omitempty"`
	Status string  `json:"status,omitempty"`
}

type SubscribeUpdatePing struct{}

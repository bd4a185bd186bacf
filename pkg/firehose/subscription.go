package firehose

// Commitment levels accepted by the firehose.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// Default DeFi programs tracked when FIREHOSE_PROGRAMS is unset.
const (
	RaydiumAMMProgram    = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
	OrcaWhirlpoolProgram = "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"
	JupiterProgram       = "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"
)

// DefaultPrograms returns a fresh copy of the default program list.
func DefaultPrograms() []string {
	return []string{RaydiumAMMProgram, OrcaWhirlpoolProgram, JupiterProgram}
}

// SubscribeRequest is the first frame written on a new connection. Filter maps are
// keyed by filter name; the name comes back in SubscribeUpdate.Filters.
type SubscribeRequest struct {
	Accounts     map[string]AccountFilter     `json:"accounts,omitempty"`
	Transactions map[string]TransactionFilter `json:"transactions,omitempty"`
	Slots        map[string]SlotFilter        `json:"slots,omitempty"`
	Commitment   string                       `json:"commitment,omitempty"`
	Ping         *PingRequest                 `json:"ping,omitempty"`
}

type AccountFilter struct {
	Account []string `json:"account,omitempty"`
	Owner   []string `json:"owner,omitempty"`
}

type TransactionFilter struct {
	Vote           *bool    `json:"vote,omitempty"`
	Failed         *bool    `json:"failed,omitempty"`
	AccountInclude []string `json:"account_include,omitempty"`
	AccountExclude []string `json:"account_exclude,omitempty"`
	AccountRequire []string `json:"account_require,omitempty"`
}

type SlotFilter struct {
	FilterByCommitment bool `json:"filter_by_commitment,omitempty"`
}

// PingRequest answers a server ping so the connection is not dropped as idle.
type PingRequest struct {
	ID int32 `json:"id"`
}

const (
	defiAccountsFilter     = "defi_accounts"
	defiTransactionsFilter = "defi_transactions"
	slotsFilter            = "slots"
)

// DefiSubscription subscribes to accounts owned by programs, to successful non-vote
// transactions touching them, and to slot updates for the watermark.
func DefiSubscription(programs []string, commitment string) SubscribeRequest {
	if len(programs) == 0 {
		programs = DefaultPrograms()
	}
	if commitment == "" {
		commitment = CommitmentConfirmed
	}
	no := false
	return SubscribeRequest{
		Accounts: map[string]AccountFilter{
			defiAccountsFilter: {Owner: programs},
		},
		Transactions: map[string]TransactionFilter{
			defiTransactionsFilter: {
				Vote:           &no,
				Failed:         &no,
				AccountInclude: programs,
			},
		},
		Slots: map[string]SlotFilter{
			slotsFilter: {FilterByCommitment: true},
		},
		Commitment: commitment,
	}
}

package db

import "strings"

// FilterByAccount keeps rows whose account_keys_json mentions account, up to limit
// (limit <= 0 keeps all). Matching is on the quoted key so a prefix of another key
// does not match.
func FilterByAccount(rows []TransactionRow, account string, limit int) []TransactionRow {
	needle := `"` + account + `"`
	return filterRows(rows, limit, func(r TransactionRow) bool {
		return strings.Contains(r.AccountKeysJSON, needle)
	})
}

// FilterByLogPattern keeps rows whose log_messages_json contains pattern, up to limit.
func FilterByLogPattern(rows []TransactionRow, pattern string, limit int) []TransactionRow {
	return filterRows(rows, limit, func(r TransactionRow) bool {
		return strings.Contains(r.LogMessagesJSON, pattern)
	})
}

func filterRows(rows []TransactionRow, limit int, keep func(TransactionRow) bool) []TransactionRow {
	out := make([]TransactionRow, 0)
	for _, r := range rows {
		if limit > 0 && len(out) >= limit {
			break
		}
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// DefaultLimit applies when a read is given no positive limit.
const DefaultLimit = 50

func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

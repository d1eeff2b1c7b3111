package domain

// BinaryPayload is the body of a BINARY_DATA command: an admin batch or a
// report query.
type BinaryPayload interface {
	binaryPayload()
}

// BatchAddSymbols registers instruments on every risk and matching shard.
type BatchAddSymbols struct {
	Symbols []SymbolSpec
}

// BatchAddAccounts creates users and funds them. Balances are keyed by uid
// then currency.
type BatchAddAccounts struct {
	Accounts map[int64]map[int32]int64
}

// StateHashQuery asks every shard for a digest of its state.
type StateHashQuery struct{}

// SingleUserReportQuery asks for one user's profile and resting orders.
type SingleUserReportQuery struct {
	UID int64
}

// TotalCurrencyBalanceQuery asks for the solvency aggregate.
type TotalCurrencyBalanceQuery struct{}

func (BatchAddSymbols) binaryPayload()           {}
func (BatchAddAccounts) binaryPayload()          {}
func (StateHashQuery) binaryPayload()            {}
func (SingleUserReportQuery) binaryPayload()     {}
func (TotalCurrencyBalanceQuery) binaryPayload() {}

// IsReportQuery reports whether the payload only reads state.
func IsReportQuery(p BinaryPayload) bool {
	switch p.(type) {
	case StateHashQuery, SingleUserReportQuery, TotalCurrencyBalanceQuery:
		return true
	}
	return false
}

// FundingTransactionID is the transaction id used when BatchAddAccounts
// funds currency for a new user.
func FundingTransactionID(currency int32) int64 {
	return 1_000_000_000 + int64(currency)
}

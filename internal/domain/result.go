package domain

import "fmt"

// ResultCode is the outcome written back to a command by the stage that
// decided it. The zero value NEW means no stage has decided yet.
type ResultCode int32

const (
	ResultNew ResultCode = iota
	ResultSuccess
	ResultValidForMatchingEngine
	ResultAuthInvalidUser
	ResultInvalidSymbol
	ResultRiskNSF
	ResultMatchingUnknownOrderID
	ResultMatchingInvalidOrderBookID
	ResultMatchingMoveFailedPriceOverRiskLimit
	ResultMatchingUnsupportedOrderType
	ResultUserMgmtUserAlreadyExists
	ResultUserMgmtAccountBalanceAdjustmentZero
	ResultUserMgmtAccountBalanceAdjustmentAlreadyApplied
	ResultUserMgmtAccountBalanceAdjustmentNSF
	ResultStatePersistRiskEngineFailed
	ResultStatePersistMatchingEngineFailed
	ResultUserNotFound
	ResultUnsupportedCommand
)

var resultCodeNames = map[ResultCode]string{
	ResultNew:                                  "NEW",
	ResultSuccess:                              "SUCCESS",
	ResultValidForMatchingEngine:               "VALID_FOR_MATCHING_ENGINE",
	ResultAuthInvalidUser:                      "AUTH_INVALID_USER",
	ResultInvalidSymbol:                        "INVALID_SYMBOL",
	ResultRiskNSF:                              "RISK_NSF",
	ResultMatchingUnknownOrderID:               "MATCHING_UNKNOWN_ORDER_ID",
	ResultMatchingInvalidOrderBookID:           "MATCHING_INVALID_ORDER_BOOK_ID",
	ResultMatchingMoveFailedPriceOverRiskLimit: "MATCHING_MOVE_FAILED_PRICE_OVER_RISK_LIMIT",
	ResultMatchingUnsupportedOrderType:         "MATCHING_UNSUPPORTED_ORDER_TYPE",
	ResultUserMgmtUserAlreadyExists:            "USER_MGMT_USER_ALREADY_EXISTS",
	ResultUserMgmtAccountBalanceAdjustmentZero: "USER_MGMT_ACCOUNT_BALANCE_ADJUSTMENT_ZERO",
	ResultUserMgmtAccountBalanceAdjustmentAlreadyApplied: "USER_MGMT_ACCOUNT_BALANCE_ADJUSTMENT_ALREADY_APPLIED",
	ResultUserMgmtAccountBalanceAdjustmentNSF:            "USER_MGMT_ACCOUNT_BALANCE_ADJUSTMENT_NSF",
	ResultStatePersistRiskEngineFailed:                   "STATE_PERSIST_RISK_ENGINE_FAILED",
	ResultStatePersistMatchingEngineFailed:               "STATE_PERSIST_MATCHING_ENGINE_FAILED",
	ResultUserNotFound:                                   "USER_NOT_FOUND",
	ResultUnsupportedCommand:                             "UNSUPPORTED_COMMAND",
}

func (c ResultCode) String() string {
	if name, ok := resultCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ResultCode(%d)", int32(c))
}

// MarshalText renders the code by name for JSON output.
func (c ResultCode) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

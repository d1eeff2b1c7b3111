package domain

import "testing"

func TestMergeTotalCurrencyBalance_SumsShards(t *testing.T) {
	a := NewTotalCurrencyBalanceResult()
	a.AccountBalances[1] = 100
	a.Adjustments[1] = -150
	b := NewTotalCurrencyBalanceResult()
	b.AccountBalances[1] = 30
	b.Fees[1] = 5
	m := NewTotalCurrencyBalanceResult()
	m.OrdersBalances[1] = 15

	merged := MergeTotalCurrencyBalance([]ReportResult{m}, []ReportResult{a, b, nil})
	if merged.AccountBalances[1] != 130 {
		t.Errorf("AccountBalances[1] = %d, want 130", merged.AccountBalances[1])
	}
	if !merged.IsGlobalBalancesAllZero() {
		t.Errorf("expected global balances to net to zero, got %v", merged.GlobalBalancesSum())
	}
}

func TestMergeStateHash_OrderSensitive(t *testing.T) {
	x := &StateHashResult{Hash: 1}
	y := &StateHashResult{Hash: 2}
	h1 := MergeStateHash([]ReportResult{x}, []ReportResult{y})
	h2 := MergeStateHash([]ReportResult{y}, []ReportResult{x})
	if h1 == h2 {
		t.Error("swapping shard digests should change the merged digest")
	}
	if h1 != MergeStateHash([]ReportResult{x}, []ReportResult{y}) {
		t.Error("merged digest should be deterministic")
	}
}

func TestMergeSingleUserReport(t *testing.T) {
	risk := []ReportResult{
		&SingleUserReportResult{UID: 7, Status: ResultUserNotFound},
		&SingleUserReportResult{UID: 7, Status: ResultSuccess, Accounts: map[int32]int64{2: 50}},
	}
	matching := []ReportResult{
		&SingleUserReportResult{UID: 7, Orders: map[int32][]Order{100: {{OrderID: 1, UID: 7, Size: 3}}}},
	}
	got := MergeSingleUserReport(7, matching, risk)
	if got.Status != ResultSuccess {
		t.Fatalf("Status = %s, want SUCCESS", got.Status)
	}
	if got.Accounts[2] != 50 {
		t.Errorf("Accounts[2] = %d, want 50", got.Accounts[2])
	}
	if len(got.Orders[100]) != 1 {
		t.Errorf("expected one order on symbol 100, got %d", len(got.Orders[100]))
	}

	missing := MergeSingleUserReport(8, nil, []ReportResult{&SingleUserReportResult{UID: 8, Status: ResultUserNotFound}})
	if missing.Status != ResultUserNotFound {
		t.Errorf("Status = %s, want USER_NOT_FOUND", missing.Status)
	}
}

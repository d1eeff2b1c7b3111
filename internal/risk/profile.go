package risk

import (
	"fmt"
	"maps"
	"slices"

	"github.com/efreitasn/exchangecore/internal/domain"
	"github.com/efreitasn/exchangecore/internal/snapshot"
	"github.com/pkg/errors"
)

// UserProfile holds the accounts and margin positions of one user.
type UserProfile struct {
	UID int64
	// Accounts maps currency to balance. A balance may be debited below
	// zero only while it is covered by futures profit.
	Accounts  map[int32]int64
	Positions map[int32]*SymbolPositionRecord
	// ExternalTransactions holds the ids of applied balance adjustments.
	ExternalTransactions map[int64]struct{}
	CommandsCounter      int64
}

func newUserProfile(uid int64) *UserProfile {
	return &UserProfile{
		UID:                  uid,
		Accounts:             make(map[int32]int64),
		Positions:            make(map[int32]*SymbolPositionRecord),
		ExternalTransactions: make(map[int64]struct{}),
	}
}

func (u *UserProfile) positionOrCreate(spec *domain.SymbolSpec) *SymbolPositionRecord {
	if p, ok := u.Positions[spec.SymbolID]; ok {
		return p
	}
	p := newPositionRecord(u.UID, spec)
	u.Positions[spec.SymbolID] = p
	return p
}

func (u *UserProfile) position(symbol int32) (*SymbolPositionRecord, error) {
	p, ok := u.Positions[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: uid %d has no position for symbol %d", domain.ErrStateCorruption, u.UID, symbol)
	}
	return p, nil
}

// removeIfEmpty drops an empty position and moves its realized profit to
// the account.
func (u *UserProfile) removeIfEmpty(p *SymbolPositionRecord) {
	if !p.IsEmpty() {
		return
	}
	if p.Profit != 0 {
		u.Accounts[p.Currency] += p.Profit
	}
	delete(u.Positions, p.Symbol)
}

func (u *UserProfile) report() *domain.SingleUserReportResult {
	res := &domain.SingleUserReportResult{
		UID:             u.UID,
		Status:          domain.ResultSuccess,
		Accounts:        maps.Clone(u.Accounts),
		CommandsCounter: u.CommandsCounter,
	}
	if len(u.Positions) > 0 {
		res.Positions = make(map[int32]domain.PositionView, len(u.Positions))
		for s, p := range u.Positions {
			res.Positions[s] = p.View()
		}
	}
	return res
}

func (u *UserProfile) MarshalSnapshot(w *snapshot.Writer) {
	w.Int64(u.UID)
	snapshot.WriteMap(w, u.Positions, (*snapshot.Writer).Int32, func(w *snapshot.Writer, p *SymbolPositionRecord) {
		w.Object(p)
	})
	snapshot.WriteInt64Set(w, u.ExternalTransactions)
	snapshot.WriteInt32Int64Map(w, u.Accounts)
	w.Int64(u.CommandsCounter)
}

func readUserProfile(r *snapshot.Reader) *UserProfile {
	u := &UserProfile{UID: r.Int64()}
	u.Positions = snapshot.ReadMap(r, (*snapshot.Reader).Int32, func(r *snapshot.Reader) *SymbolPositionRecord {
		p := readPositionRecord(r, u.UID)
		if p.Direction < domain.DirectionShort || p.Direction > domain.DirectionLong {
			r.Fail(errors.Errorf("snapshot: uid %d symbol %d: invalid direction %d", u.UID, p.Symbol, p.Direction))
		}
		return p
	})
	u.ExternalTransactions = snapshot.ReadInt64Set(r)
	u.Accounts = snapshot.ReadInt32Int64Map(r)
	u.CommandsCounter = r.Int64()
	return u
}

// ProfileService owns the user profiles of one risk shard.
type ProfileService struct {
	profiles map[int64]*UserProfile
}

// NewProfileService returns an empty service.
func NewProfileService() *ProfileService {
	return &ProfileService{profiles: make(map[int64]*UserProfile)}
}

// UserProfile returns the profile of uid, or nil.
func (s *ProfileService) UserProfile(uid int64) *UserProfile {
	return s.profiles[uid]
}

func (s *ProfileService) userProfileOrErr(uid int64) (*UserProfile, error) {
	u, ok := s.profiles[uid]
	if !ok {
		return nil, fmt.Errorf("%w: %w: uid %d", domain.ErrStateCorruption, domain.ErrUserNotFound, uid)
	}
	return u, nil
}

// AddEmptyUserProfile creates a profile for uid. It returns false, changing
// nothing, if one already exists.
func (s *ProfileService) AddEmptyUserProfile(uid int64) bool {
	if _, ok := s.profiles[uid]; ok {
		return false
	}
	s.profiles[uid] = newUserProfile(uid)
	return true
}

// BalanceAdjustment credits amount (or debits, when negative) to the
// currency account of uid. Each transaction id is applied at most once.
func (s *ProfileService) BalanceAdjustment(uid int64, currency int32, amount, transactionID int64) domain.ResultCode {
	u, ok := s.profiles[uid]
	if !ok {
		return domain.ResultAuthInvalidUser
	}
	if amount == 0 {
		return domain.ResultUserMgmtAccountBalanceAdjustmentZero
	}
	if _, applied := u.ExternalTransactions[transactionID]; applied {
		return domain.ResultUserMgmtAccountBalanceAdjustmentAlreadyApplied
	}
	if amount < 0 && u.Accounts[currency]+amount < 0 {
		return domain.ResultUserMgmtAccountBalanceAdjustmentNSF
	}
	u.ExternalTransactions[transactionID] = struct{}{}
	u.Accounts[currency] += amount
	return domain.ResultSuccess
}

// Len returns the number of profiles.
func (s *ProfileService) Len() int {
	return len(s.profiles)
}

// ForEach visits profiles in ascending uid order.
func (s *ProfileService) ForEach(fn func(*UserProfile)) {
	for _, uid := range slices.Sorted(maps.Keys(s.profiles)) {
		fn(s.profiles[uid])
	}
}

// Reset drops every profile.
func (s *ProfileService) Reset() {
	clear(s.profiles)
}

func (s *ProfileService) MarshalSnapshot(w *snapshot.Writer) {
	snapshot.WriteMap(w, s.profiles, (*snapshot.Writer).Int64, func(w *snapshot.Writer, u *UserProfile) {
		w.Object(u)
	})
}

func readProfileService(r *snapshot.Reader) *ProfileService {
	return &ProfileService{profiles: snapshot.ReadMap(r, (*snapshot.Reader).Int64, readUserProfile)}
}

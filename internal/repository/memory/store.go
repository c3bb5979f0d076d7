// Package memory is an in-process ledger store with the same conditional-write semantics as
// the Postgres repositories. It backs tests and STORE_DRIVER=memory single-instance runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"contract-service/internal/domain"
	"contract-service/internal/repository"

	"github.com/shopspring/decimal"
)

type Store struct {
	mu          sync.Mutex
	contracts   map[string]*domain.Contract
	payments    map[string]*domain.Payment
	balances    map[string]*domain.Balance
	credits     map[string]decimal.Decimal
	withdrawals map[string]*domain.Withdrawal
	infos       map[string]domain.WithdrawalInfo
	identities  map[string]*domain.IdentityRecord
	now         func() time.Time

	Contracts   *ContractRepo
	Payments    *PaymentRepo
	Balances    *BalanceRepo
	Withdrawals *WithdrawalRepo
	Identities  *IdentityRepo
}

func NewStore() *Store {
	s := &Store{
		contracts:   make(map[string]*domain.Contract),
		payments:    make(map[string]*domain.Payment),
		balances:    make(map[string]*domain.Balance),
		credits:     make(map[string]decimal.Decimal),
		withdrawals: make(map[string]*domain.Withdrawal),
		infos:       make(map[string]domain.WithdrawalInfo),
		identities:  make(map[string]*domain.IdentityRecord),
		now:         func() time.Time { return time.Now().UTC() },
	}
	s.Contracts = &ContractRepo{s: s}
	s.Payments = &PaymentRepo{s: s}
	s.Balances = &BalanceRepo{s: s}
	s.Withdrawals = &WithdrawalRepo{s: s}
	s.Identities = &IdentityRepo{s: s}
	return s
}

// SetClock overrides the store's notion of now.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

var (
	_ repository.ContractRepository   = (*ContractRepo)(nil)
	_ repository.PaymentRepository    = (*PaymentRepo)(nil)
	_ repository.BalanceRepository    = (*BalanceRepo)(nil)
	_ repository.WithdrawalRepository = (*WithdrawalRepo)(nil)
	_ repository.IdentityRepository   = (*IdentityRepo)(nil)
)

// ---- contracts ----

type ContractRepo struct{ s *Store }

func (r *ContractRepo) Create(_ context.Context, c *domain.Contract) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.contracts[c.ID]; ok {
		return domain.WrapStore("create contract", errDuplicateKey)
	}
	now := r.s.now()
	c.Version = 1
	c.CreatedAt, c.UpdatedAt = now, now
	r.s.contracts[c.ID] = c.Clone()
	return nil
}

func (r *ContractRepo) GetByID(_ context.Context, id string) (*domain.Contract, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contracts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c.Clone(), nil
}

func (r *ContractRepo) GetByInvitationToken(_ context.Context, token string) (*domain.Contract, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.contracts {
		if token != "" && c.InvitationToken == token {
			return c.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *ContractRepo) List(_ context.Context, f domain.ContractFilter) ([]*domain.Contract, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Contract
	for _, c := range r.s.contracts {
		if f.PartyID != "" {
			switch f.AsRole {
			case "creator":
				if c.CreatorID != f.PartyID {
					continue
				}
			case "contributor":
				if c.ContributorID != f.PartyID {
					continue
				}
			default:
				if !c.IsParty(f.PartyID) {
					continue
				}
			}
		}
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, f.Limit, f.Offset), nil
}

func (r *ContractRepo) Update(_ context.Context, c *domain.Contract) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.contracts[c.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != c.Version {
		return domain.ErrConcurrentModification
	}
	c.Version++
	c.UpdatedAt = r.s.now()
	r.s.contracts[c.ID] = c.Clone()
	return nil
}

func (r *ContractRepo) Delete(_ context.Context, id string, version int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.contracts[id]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != version || cur.Status != domain.ContractStatusDraft {
		return domain.ErrConcurrentModification
	}
	delete(r.s.contracts, id)
	return nil
}

// ---- payments ----

type PaymentRepo struct{ s *Store }

func (r *PaymentRepo) attemptsLocked(contractID string, index int) []*domain.Payment {
	var out []*domain.Payment
	for _, p := range r.s.payments {
		if p.ContractID == contractID && p.MilestoneIndex == index {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Attempt < out[j].Attempt })
	return out
}

func (r *PaymentRepo) CreateAttempt(_ context.Context, p *domain.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	attempts := r.attemptsLocked(p.ContractID, p.MilestoneIndex)
	for _, a := range attempts {
		switch {
		case a.Status == domain.PaymentStatusSucceeded:
			return domain.ErrAlreadyPaid
		case a.Status.Blocking():
			return domain.ErrPaymentInProgress
		}
	}
	now := r.s.now()
	p.Attempt = len(attempts) + 1
	p.Status = domain.PaymentStatusPending
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	r.s.payments[p.ID] = &cp
	return nil
}

func (r *PaymentRepo) MarkProcessing(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != domain.PaymentStatusPending {
		return domain.ErrConcurrentModification
	}
	p.Status = domain.PaymentStatusProcessing
	p.UpdatedAt = r.s.now()
	return nil
}

func (r *PaymentRepo) SetGatewayRef(_ context.Context, id, ref string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.GatewayRef = &ref
	p.UpdatedAt = r.s.now()
	return nil
}

func (r *PaymentRepo) Finalize(_ context.Context, id string, res domain.PaymentResolution) (*domain.Payment, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	if p.IsFinal() {
		cp := *p
		return &cp, false, nil
	}
	now := r.s.now()
	p.Status = res.Status
	if res.GatewayRef != "" {
		ref := res.GatewayRef
		p.GatewayRef = &ref
	}
	p.Retryable = res.Retryable
	if res.Reason != "" {
		reason := res.Reason
		p.FailureReason = &reason
	} else {
		p.FailureReason = nil
	}
	p.UpdatedAt = now
	p.CompletedAt = &now
	cp := *p
	return &cp, true, nil
}

func (r *PaymentRepo) GetByID(_ context.Context, id string) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *PaymentRepo) GetByGatewayRef(_ context.Context, ref string) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.payments {
		if p.GatewayRef != nil && *p.GatewayRef == ref {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *PaymentRepo) ListByMilestone(_ context.Context, contractID string, index int) ([]domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Payment
	for _, p := range r.attemptsLocked(contractID, index) {
		out = append(out, *p)
	}
	return out, nil
}

func (r *PaymentRepo) SucceededIndexes(_ context.Context, contractID string) (map[int]bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	paid := make(map[int]bool)
	for _, p := range r.s.payments {
		if p.ContractID == contractID && p.Status == domain.PaymentStatusSucceeded {
			paid[p.MilestoneIndex] = true
		}
	}
	return paid, nil
}

func (r *PaymentRepo) ListStale(_ context.Context, before time.Time, limit int) ([]domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Payment
	for _, p := range r.s.payments {
		if !p.IsFinal() && p.UpdatedAt.Before(before) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *PaymentRepo) ListUncredited(_ context.Context, limit int) ([]domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Payment
	for _, p := range r.s.payments {
		if p.Status != domain.PaymentStatusSucceeded {
			continue
		}
		if _, ok := r.s.credits[p.ID]; ok {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- balances ----

type BalanceRepo struct{ s *Store }

func (r *BalanceRepo) Get(_ context.Context, contributorID string) (*domain.Balance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.balances[contributorID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *BalanceRepo) CreditForPayment(_ context.Context, p *domain.Payment) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p.Status != domain.PaymentStatusSucceeded {
		return false, domain.WrapStore("credit payment", errNotSucceeded)
	}
	if _, ok := r.s.credits[p.ID]; ok {
		return false, nil
	}
	r.s.credits[p.ID] = p.Amount
	b, ok := r.s.balances[p.PayeeID]
	if !ok {
		b = domain.EmptyBalance(p.PayeeID, p.Currency)
		r.s.balances[p.PayeeID] = b
	}
	b.Available = b.Available.Add(p.Amount)
	b.LifetimeEarnings = b.LifetimeEarnings.Add(p.Amount)
	b.UpdatedAt = r.s.now()
	return true, nil
}

func (r *BalanceRepo) IsCredited(_ context.Context, paymentID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.credits[paymentID]
	return ok, nil
}

func (r *BalanceRepo) Audit(_ context.Context, contributorID string) (*domain.BalanceAudit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a := &domain.BalanceAudit{
		ContributorID:   contributorID,
		Credits:         decimal.Zero,
		CompletedDebits: decimal.Zero,
		Reserved:        decimal.Zero,
		StoredAvailable: decimal.Zero,
	}
	for paymentID, amt := range r.s.credits {
		if p, ok := r.s.payments[paymentID]; ok && p.PayeeID == contributorID {
			a.Credits = a.Credits.Add(amt)
		}
	}
	for _, w := range r.s.withdrawals {
		if w.ContributorID != contributorID {
			continue
		}
		switch w.Status {
		case domain.WithdrawalStatusCompleted:
			a.CompletedDebits = a.CompletedDebits.Add(w.Amount)
		case domain.WithdrawalStatusPending, domain.WithdrawalStatusProcessing:
			a.Reserved = a.Reserved.Add(w.Amount)
		}
	}
	if b, ok := r.s.balances[contributorID]; ok {
		a.StoredAvailable = b.Available
	}
	a.ExpectedAvailable = a.Credits.Sub(a.CompletedDebits).Sub(a.Reserved)
	return a, nil
}

// ---- withdrawals ----

type WithdrawalRepo struct{ s *Store }

func (r *WithdrawalRepo) CreateWithReserve(_ context.Context, w *domain.Withdrawal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.balances[w.ContributorID]
	if !ok || b.Available.LessThan(w.Amount) {
		return domain.ErrInsufficientBalance
	}
	for _, existing := range r.s.withdrawals {
		if existing.ContributorID == w.ContributorID && !existing.Status.IsFinal() {
			return domain.ErrPendingWithdrawalExists
		}
	}
	now := r.s.now()
	b.Available = b.Available.Sub(w.Amount)
	b.Reserved = b.Reserved.Add(w.Amount)
	b.UpdatedAt = now
	if w.Currency == "" {
		w.Currency = b.Currency
	}
	w.Status = domain.WithdrawalStatusPending
	w.RequestedAt, w.UpdatedAt = now, now
	cp := *w
	r.s.withdrawals[w.ID] = &cp
	return nil
}

func (r *WithdrawalRepo) Transition(_ context.Context, id string, from domain.WithdrawalStatus, upd domain.WithdrawalUpdate) (*domain.Withdrawal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.withdrawals[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if w.Status != from {
		return nil, domain.ErrConcurrentModification
	}
	b, ok := r.s.balances[w.ContributorID]
	if upd.To.IsFinal() && (!ok || b.Reserved.LessThan(w.Amount)) {
		return nil, domain.WrapStore("settle reservation", errReservationMissing)
	}

	now := r.s.now()
	switch upd.To {
	case domain.WithdrawalStatusRejected:
		b.Reserved = b.Reserved.Sub(w.Amount)
		b.Available = b.Available.Add(w.Amount)
		b.UpdatedAt = now
	case domain.WithdrawalStatusCompleted:
		b.Reserved = b.Reserved.Sub(w.Amount)
		b.TotalWithdrawn = b.TotalWithdrawn.Add(w.Amount)
		b.UpdatedAt = now
	}

	w.Status = upd.To
	admin := upd.AdminID
	w.AdminID = &admin
	if upd.Note != "" {
		note := upd.Note
		w.AdminNote = &note
	}
	if upd.ExternalReference != "" {
		ref := upd.ExternalReference
		w.ExternalReference = &ref
	}
	if upd.Reason != "" {
		reason := upd.Reason
		w.RejectionReason = &reason
	}
	w.UpdatedAt = now
	if upd.To.IsFinal() {
		w.ProcessedAt = &now
	}
	cp := *w
	return &cp, nil
}

func (r *WithdrawalRepo) GetByID(_ context.Context, id string) (*domain.Withdrawal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.withdrawals[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (r *WithdrawalRepo) List(_ context.Context, f domain.WithdrawalFilter) ([]*domain.Withdrawal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Withdrawal
	for _, w := range r.s.withdrawals {
		if f.ContributorID != "" && w.ContributorID != f.ContributorID {
			continue
		}
		if f.Status != nil && w.Status != *f.Status {
			continue
		}
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, f.Limit, f.Offset), nil
}

func (r *WithdrawalRepo) GetInfo(_ context.Context, contributorID string) (*domain.WithdrawalInfo, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	info, ok := r.s.infos[contributorID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &info, nil
}

func (r *WithdrawalRepo) UpsertInfo(_ context.Context, info *domain.WithdrawalInfo) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	info.UpdatedAt = r.s.now()
	r.s.infos[info.ContributorID] = *info
	return nil
}

// ---- identities ----

type IdentityRepo struct{ s *Store }

func (r *IdentityRepo) Upsert(_ context.Context, id domain.Identity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	rec, ok := r.s.identities[id.ExternalID]
	if !ok {
		r.s.identities[id.ExternalID] = &domain.IdentityRecord{
			ExternalID: id.ExternalID, Role: id.Role, Verified: id.Verified, FirstSeen: now, LastSeen: now,
		}
		return nil
	}
	rec.Role, rec.Verified, rec.LastSeen = id.Role, id.Verified, now
	return nil
}

func (r *IdentityRepo) Get(_ context.Context, externalID string) (*domain.IdentityRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.identities[externalID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// Package memory provides an in-process implementation of the numbering gateway,
// the voucher repository and the settings store.
// Transactions are serialized and rolled back from a snapshot; it is meant for
// tests and single-instance tooling, not for production data.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/id"
	"backoffice/internal/core/numerator"
	"backoffice/internal/core/tx"
	"backoffice/internal/domain"
	"backoffice/internal/domain/settings"
	"backoffice/internal/domain/vouchers"
)

// Compile-time interface checks.
var (
	_ tx.Manager             = (*Store)(nil)
	_ numerator.Gateway      = (*Store)(nil)
	_ numerator.Auditor      = (*Store)(nil)
	_ numerator.PendingQueue = (*Store)(nil)
	_ vouchers.Repository    = (*Store)(nil)
	_ settings.Store         = (*Store)(nil)
)

// AuditEntry is one recorded renumbering.
type AuditEntry struct {
	ScopeKey string
	Changes  []numerator.Change
	At       time.Time
}

type state struct {
	docs     map[string]map[id.ID]vouchers.Voucher // doc type -> id -> voucher
	counters map[string]int64
	pending  map[string]numerator.PendingScope
	policies map[string]numerator.Policy
	audit    []AuditEntry
	seq      int64
}

func newState() state {
	return state{
		docs:     make(map[string]map[id.ID]vouchers.Voucher),
		counters: make(map[string]int64),
		pending:  make(map[string]numerator.PendingScope),
		policies: make(map[string]numerator.Policy),
	}
}

func (s state) clone() state {
	c := newState()
	for t, byID := range s.docs {
		m := make(map[id.ID]vouchers.Voucher, len(byID))
		for k, v := range byID {
			m[k] = v
		}
		c.docs[t] = m
	}
	for k, v := range s.counters {
		c.counters[k] = v
	}
	for k, v := range s.pending {
		c.pending[k] = v
	}
	for k, v := range s.policies {
		c.policies[k] = v
	}
	c.audit = append([]AuditEntry(nil), s.audit...)
	c.seq = s.seq
	return c
}

// Store keeps everything in maps guarded by one mutex.
// A transaction holds the mutex until it ends; calls outside a transaction hold it per call.
type Store struct {
	mu  sync.Mutex
	st  state
	now func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{st: newState(), now: func() time.Time { return time.Now().UTC() }}
}

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// RunInTransaction implements tx.Manager. Nested calls join the outer transaction.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// do runs fn under the store mutex unless ctx already holds it.
func (s *Store) do(ctx context.Context, fn func(st *state) error) error {
	if !s.inTx(ctx) {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&s.st)
}

func (st *state) table(docType string) map[id.ID]vouchers.Voucher {
	t, ok := st.docs[docType]
	if !ok {
		t = make(map[id.ID]vouchers.Voucher)
		st.docs[docType] = t
	}
	return t
}

func (st *state) numberTaken(tenantID, docType, number string, except id.ID) bool {
	for _, v := range st.docs[docType] {
		if v.TenantID == tenantID && v.Number == number && v.ID != except {
			return true
		}
	}
	return false
}

// numberUsed looks across every document type of the tenant.
func (st *state) numberUsed(tenantID, number string) bool {
	for _, byID := range st.docs {
		for _, v := range byID {
			if v.TenantID == tenantID && v.Number == number {
				return true
			}
		}
	}
	return false
}

func inScope(v vouchers.Voucher, scope numerator.Scope) bool {
	return v.Active && v.TenantID == scope.TenantID && scope.Period.Contains(v.OccurredOn)
}

// --- numerator.Gateway ---

// MaxSequence implements numerator.ScopeQuery.
func (s *Store) MaxSequence(ctx context.Context, tenantID, docType string, pattern numerator.Pattern) (int64, error) {
	var top int64
	err := s.do(ctx, func(st *state) error {
		for _, v := range st.docs[docType] {
			if v.TenantID != tenantID {
				continue
			}
			if seq, ok := pattern.Match(v.Number); ok && seq > top {
				top = seq
			}
		}
		return nil
	})
	return top, err
}

// MaxOccurredOn implements numerator.ScopeQuery.
func (s *Store) MaxOccurredOn(ctx context.Context, scope numerator.Scope, excluding id.ID) (time.Time, bool, error) {
	var (
		latest time.Time
		found  bool
	)
	err := s.do(ctx, func(st *state) error {
		for _, v := range st.docs[scope.DocType] {
			if v.ID == excluding || !inScope(v, scope) {
				continue
			}
			if !found || v.OccurredOn.After(latest) {
				latest, found = v.OccurredOn, true
			}
		}
		return nil
	})
	return latest, found, err
}

// CountLater implements numerator.ScopeQuery.
func (s *Store) CountLater(ctx context.Context, scope numerator.Scope, after time.Time, excluding id.ID) (int, error) {
	after = numerator.DateOf(after)
	n := 0
	err := s.do(ctx, func(st *state) error {
		for _, v := range st.docs[scope.DocType] {
			if v.ID != excluding && inScope(v, scope) && numerator.DateOf(v.OccurredOn).After(after) {
				n++
			}
		}
		return nil
	})
	return n, err
}

// NumberExists implements numerator.ScopeQuery.
func (s *Store) NumberExists(ctx context.Context, tenantID, _, number string) (bool, error) {
	var taken bool
	err := s.do(ctx, func(st *state) error {
		taken = st.numberUsed(tenantID, number)
		return nil
	})
	return taken, err
}

// AdvanceCounter implements numerator.Gateway.
func (s *Store) AdvanceCounter(ctx context.Context, key string, floor int64) (int64, error) {
	var next int64
	err := s.do(ctx, func(st *state) error {
		next = max(st.counters[key], floor) + 1
		st.counters[key] = next
		return nil
	})
	return next, err
}

// ListActive implements numerator.Gateway.
func (s *Store) ListActive(ctx context.Context, scope numerator.Scope, since time.Time) ([]numerator.Record, error) {
	var out []numerator.Record
	err := s.do(ctx, func(st *state) error {
		for _, v := range st.docs[scope.DocType] {
			if !inScope(v, scope) {
				continue
			}
			if !since.IsZero() && numerator.DateOf(v.OccurredOn).Before(numerator.DateOf(since)) {
				continue
			}
			out = append(out, v.Record())
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out, err
}

// SetNumber implements numerator.Gateway. A number held by another voucher of the
// tenant fails like a unique index would.
func (s *Store) SetNumber(ctx context.Context, tenantID, docType string, recordID id.ID, number string) error {
	return s.do(ctx, func(st *state) error {
		t := st.table(docType)
		v, ok := t[recordID]
		if !ok || v.TenantID != tenantID {
			return apperror.NewNotFound("voucher", recordID)
		}
		if st.numberTaken(tenantID, docType, number, recordID) {
			return apperror.NewDuplicate("voucher", "number", number)
		}
		v.Number = number
		t[recordID] = v
		return nil
	})
}

// --- numerator.Auditor ---

// RecordRenumbering implements numerator.Auditor.
func (s *Store) RecordRenumbering(ctx context.Context, scope numerator.Scope, changes []numerator.Change) error {
	return s.do(ctx, func(st *state) error {
		st.audit = append(st.audit, AuditEntry{
			ScopeKey: scope.Key(),
			Changes:  append([]numerator.Change(nil), changes...),
			At:       s.now(),
		})
		return nil
	})
}

// Audit returns the recorded renumberings.
func (s *Store) Audit() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEntry(nil), s.st.audit...)
}

// --- numerator.PendingQueue ---

// Enqueue implements numerator.PendingQueue.
func (s *Store) Enqueue(ctx context.Context, scope numerator.Scope, cause error) error {
	return s.do(ctx, func(st *state) error {
		p := st.pending[scope.Key()]
		p.Key = scope.Key()
		p.TenantID = scope.TenantID
		p.DocType = scope.DocType
		p.Anchor = scope.Anchor
		p.Attempts++
		if cause != nil {
			p.LastError = cause.Error()
		}
		p.UpdatedAt = s.now()
		st.pending[p.Key] = p
		return nil
	})
}

// ListPending implements numerator.PendingQueue.
func (s *Store) ListPending(ctx context.Context, maxAttempts, limit int) ([]numerator.PendingScope, error) {
	var out []numerator.PendingScope
	err := s.do(ctx, func(st *state) error {
		for _, p := range st.pending {
			if maxAttempts <= 0 || p.Attempts < maxAttempts {
				out = append(out, p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

// Resolve implements numerator.PendingQueue.
func (s *Store) Resolve(ctx context.Context, key string) error {
	return s.do(ctx, func(st *state) error {
		delete(st.pending, key)
		return nil
	})
}

// --- vouchers.Repository ---

// Create implements vouchers.Repository.
func (s *Store) Create(ctx context.Context, v *vouchers.Voucher) error {
	return s.do(ctx, func(st *state) error {
		if st.numberTaken(v.TenantID, v.DocType, v.Number, id.Nil()) {
			return apperror.NewDuplicate("voucher", "number", v.Number)
		}
		st.seq++
		v.CreatedSeq = st.seq
		st.table(v.DocType)[v.ID] = *v
		return nil
	})
}

// GetByID implements vouchers.Repository.
func (s *Store) GetByID(ctx context.Context, tenantID, docType string, voucherID id.ID) (*vouchers.Voucher, error) {
	var out *vouchers.Voucher
	err := s.do(ctx, func(st *state) error {
		v, ok := st.docs[docType][voucherID]
		if !ok || v.TenantID != tenantID {
			return apperror.NewNotFound("voucher", voucherID)
		}
		v.DocType = docType
		out = &v
		return nil
	})
	return out, err
}

// UpdateDate implements vouchers.Repository.
func (s *Store) UpdateDate(ctx context.Context, v *vouchers.Voucher, occurredOn time.Time) error {
	return s.do(ctx, func(st *state) error {
		t := st.table(v.DocType)
		stored, ok := t[v.ID]
		if !ok || stored.TenantID != v.TenantID {
			return apperror.NewNotFound("voucher", v.ID)
		}
		if stored.Version != v.Version {
			return apperror.NewConcurrentModification("voucher", v.ID)
		}
		stored.OccurredOn = numerator.DateOf(occurredOn)
		stored.Version++
		stored.UpdatedAt = s.now()
		t[v.ID] = stored

		v.OccurredOn = stored.OccurredOn
		v.Version = stored.Version
		v.UpdatedAt = stored.UpdatedAt
		return nil
	})
}

// Delete implements vouchers.Repository.
func (s *Store) Delete(ctx context.Context, tenantID, docType string, voucherID id.ID) error {
	return s.do(ctx, func(st *state) error {
		t := st.table(docType)
		v, ok := t[voucherID]
		if !ok || v.TenantID != tenantID {
			return apperror.NewNotFound("voucher", voucherID)
		}
		v.Active = false
		v.Version++
		v.UpdatedAt = s.now()
		t[voucherID] = v
		return nil
	})
}

// List implements vouchers.Repository.
func (s *Store) List(ctx context.Context, tenantID, docType string, filter domain.ListFilter) (domain.ListResult[*vouchers.Voucher], error) {
	var all []*vouchers.Voucher
	err := s.do(ctx, func(st *state) error {
		for _, v := range st.docs[docType] {
			if v.TenantID != tenantID || (!v.Active && !filter.IncludeDeleted) {
				continue
			}
			day := numerator.DateOf(v.OccurredOn)
			if filter.DateFrom != nil && day.Before(numerator.DateOf(*filter.DateFrom)) {
				continue
			}
			if filter.DateTo != nil && day.After(numerator.DateOf(*filter.DateTo)) {
				continue
			}
			v.DocType = docType
			all = append(all, &v)
		}
		return nil
	})
	if err != nil {
		return domain.ListResult[*vouchers.Voucher]{}, err
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Record().Less(all[j].Record()) })
	res := domain.ListResult[*vouchers.Voucher]{
		TotalCount: int64(len(all)),
		Limit:      filter.Limit,
		Offset:     filter.Offset,
		Items:      []*vouchers.Voucher{},
	}
	if filter.Offset < len(all) {
		end := len(all)
		if filter.Limit > 0 && filter.Offset+filter.Limit < end {
			end = filter.Offset + filter.Limit
		}
		res.Items = all[filter.Offset:end]
	}
	return res, nil
}

// --- settings.Store ---

// GetPolicy implements settings.Store.
func (s *Store) GetPolicy(ctx context.Context, tenantID, family string) (numerator.Policy, bool, error) {
	var (
		p  numerator.Policy
		ok bool
	)
	err := s.do(ctx, func(st *state) error {
		p, ok = st.policies[tenantID+"|"+family]
		return nil
	})
	return p, ok, err
}

// PutPolicy implements settings.Store.
func (s *Store) PutPolicy(ctx context.Context, tenantID, family string, policy numerator.Policy) error {
	return s.do(ctx, func(st *state) error {
		st.policies[tenantID+"|"+family] = policy
		return nil
	})
}

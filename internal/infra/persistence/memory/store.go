// Package memory provides an in-memory implementation of the member
// persistence store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"kintree/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.MemberStore = (*Store)(nil)

type memoryState struct {
	members map[string]domain.Member
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Members map[string]domain.Member `json:"members"`
}

func newMemoryState() memoryState {
	return memoryState{members: make(map[string]domain.Member)}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.members {
		cloned.members[k] = domain.CloneMember(v)
	}
	return cloned
}

// Store provides an in-memory transactional store for the member domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *domain.RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
// A nil engine gets the default member safety rules.
func NewStore(engine *domain.RulesEngine) *Store {
	if engine == nil {
		engine = domain.DefaultRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState returns a deep copy of the committed state for snapshotting.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{Members: make(map[string]domain.Member, len(s.state.members))}
	for k, v := range s.state.members {
		out.Members[k] = domain.CloneMember(v)
	}
	return out
}

// ImportState replaces the committed state with the supplied snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := newMemoryState()
	for k, v := range snapshot.Members {
		state.members[k] = domain.CloneMember(v)
	}
	s.state = state
}

// RulesEngine exposes the engine so callers can register additional rules.
func (s *Store) RulesEngine() *domain.RulesEngine {
	return s.engine
}

// SetNowFunc overrides the transaction clock; tests use it for stable timestamps.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		s.nowFn = fn
	}
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []domain.Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) domain.TransactionView {
	return transactionView{state: state}
}

// ListMembers returns all members within the snapshot.
func (v transactionView) ListMembers() []domain.Member {
	out := make([]domain.Member, 0, len(v.state.members))
	for _, m := range v.state.members {
		out = append(out, domain.CloneMember(m))
	}
	return out
}

// FindMember retrieves a member by ID from the snapshot.
func (v transactionView) FindMember(id string) (domain.Member, bool) {
	m, ok := v.state.members[id]
	if !ok {
		return domain.Member{}, false
	}
	return domain.CloneMember(m), true
}

// ChildrenOf returns the members whose parent reference equals id.
func (v transactionView) ChildrenOf(id string) []domain.Member {
	var out []domain.Member
	for _, m := range v.state.members {
		if m.ParentID != nil && *m.ParentID == id {
			out = append(out, domain.CloneMember(m))
		}
	}
	return out
}

// RunInTransaction executes fn within a transactional copy of the store state.
// Registered rules evaluate against the candidate state before commit.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}

	var result domain.Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return domain.Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change domain.Change) {
	tx.changes = append(tx.changes, change)
}

// CreateMember stores a new member within the transaction.
func (tx *transaction) CreateMember(m domain.Member) (domain.Member, error) {
	if m.ID == "" {
		m.ID = tx.store.newID()
	}
	if _, exists := tx.state.members[m.ID]; exists {
		return domain.Member{}, fmt.Errorf("member %q already exists", m.ID)
	}
	m.CreatedAt = tx.now
	m.UpdatedAt = tx.now
	tx.state.members[m.ID] = domain.CloneMember(m)
	tx.recordChange(domain.Change{Entity: domain.EntityMember, Action: domain.ActionCreate, After: domain.CloneMember(m)})
	return domain.CloneMember(m), nil
}

// UpdateMember mutates a member using the provided mutator function.
func (tx *transaction) UpdateMember(id string, mutator func(*domain.Member) error) (domain.Member, error) {
	current, ok := tx.state.members[id]
	if !ok {
		return domain.Member{}, domain.ErrNotFound{Entity: domain.EntityMember, ID: id}
	}
	before := domain.CloneMember(current)
	if err := mutator(&current); err != nil {
		return domain.Member{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.members[id] = domain.CloneMember(current)
	tx.recordChange(domain.Change{Entity: domain.EntityMember, Action: domain.ActionUpdate, Before: before, After: domain.CloneMember(current)})
	return domain.CloneMember(current), nil
}

// DeleteMember removes a member from the transaction state.
func (tx *transaction) DeleteMember(id string) error {
	current, ok := tx.state.members[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityMember, ID: id}
	}
	delete(tx.state.members, id)
	tx.recordChange(domain.Change{Entity: domain.EntityMember, Action: domain.ActionDelete, Before: domain.CloneMember(current)})
	return nil
}

// FindMember retrieves a member by ID within the transaction.
func (tx *transaction) FindMember(id string) (domain.Member, bool) {
	m, ok := tx.state.members[id]
	if !ok {
		return domain.Member{}, false
	}
	return domain.CloneMember(m), true
}

// ListMembers returns all members within the transaction.
func (tx *transaction) ListMembers() []domain.Member {
	out := make([]domain.Member, 0, len(tx.state.members))
	for _, m := range tx.state.members {
		out = append(out, domain.CloneMember(m))
	}
	return out
}

// GetMember retrieves a member by ID from committed state.
func (s *Store) GetMember(id string) (domain.Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.state.members[id]
	if !ok {
		return domain.Member{}, false
	}
	return domain.CloneMember(m), true
}

// ListMembers returns all members from committed state.
func (s *Store) ListMembers() []domain.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Member, 0, len(s.state.members))
	for _, m := range s.state.members {
		out = append(out, domain.CloneMember(m))
	}
	return out
}

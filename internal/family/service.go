// Package family implements the member lifecycle controller: it owns the
// member snapshot, the presentation state machine, and the deletion policy
// (authorization, referential check, best-effort asset cleanup).
package family

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kintree/internal/blob"
	"kintree/internal/tree"
	"kintree/pkg/domain"
)

// Default delay before the post-delete confirmation state is cleared by a
// fresh snapshot.
const defaultDeleteDelay = 2 * time.Second

// Service is the member lifecycle controller. All reads see a consistent
// snapshot; mutations go through the store and trigger a full refresh.
type Service struct {
	store  domain.MemberStore
	blobs  blob.Store
	assets *AssetResolver
	log    Logger
	met    *Metrics

	deleteDelay time.Duration
	schedule    func(time.Duration, func())

	mu      sync.RWMutex
	members []domain.Member
	state   State
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the instrumentation sink.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.met = m }
}

// WithAssetResolver sets the resolver used to recognize owned image URLs.
func WithAssetResolver(r *AssetResolver) Option {
	return func(s *Service) { s.assets = r }
}

// WithDeleteDelay overrides how long the delete confirmation state is shown.
func WithDeleteDelay(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.deleteDelay = d
		}
	}
}

// WithScheduler overrides delayed execution; tests use it to run the
// post-delete refresh synchronously.
func WithScheduler(fn func(time.Duration, func())) Option {
	return func(s *Service) {
		if fn != nil {
			s.schedule = fn
		}
	}
}

// NewService wires the controller. blobs may be nil, in which case photo
// upload is unavailable and asset cleanup is skipped.
func NewService(store domain.MemberStore, blobs blob.Store, opts ...Option) *Service {
	resolver, _ := NewAssetResolver(blob.LocalURLBase)
	s := &Service{
		store:       store,
		blobs:       blobs,
		assets:      resolver,
		log:         NopLogger(),
		deleteDelay: defaultDeleteDelay,
		schedule:    func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
		state:       StateLoading,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh replaces the snapshot with a fresh fetch-all. A store failure
// degrades to an empty view: it is logged and counted, never returned.
func (s *Service) Refresh(ctx context.Context) {
	start := time.Now()
	var fetched []domain.Member
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		fetched = v.ListMembers()
		return nil
	})
	s.met.observeRefresh(time.Since(start), err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.log.Error("member fetch failed, presenting empty view", "error", err)
		s.members = nil
		s.state = StateEmpty
		return
	}
	// Stable ordering so tree construction and rendering are deterministic.
	sort.Slice(fetched, func(i, j int) bool {
		if !fetched[i].CreatedAt.Equal(fetched[j].CreatedAt) {
			return fetched[i].CreatedAt.Before(fetched[j].CreatedAt)
		}
		return fetched[i].ID < fetched[j].ID
	})
	s.members = fetched
	if len(fetched) == 0 {
		s.state = StateEmpty
	} else {
		s.state = StatePopulated
	}
}

// Members returns a copy of the current snapshot.
func (s *Service) Members() []domain.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, domain.CloneMember(m))
	}
	return out
}

// Tree builds the relationship forest from the current snapshot. The forest
// is constructed on every call and never cached.
func (s *Service) Tree() []*tree.Node {
	return tree.Build(s.Members())
}

// State returns the current presentation state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Add persists a new member credited to identity, then refreshes.
func (s *Service) Add(ctx context.Context, identity domain.Identity, m domain.Member) (domain.Member, error) {
	m.CreatedBy = identity.UID
	var created domain.Member
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var txErr error
		created, txErr = tx.CreateMember(m)
		return txErr
	})
	if err != nil {
		return domain.Member{}, s.storeErr("create", err)
	}
	s.met.countMutation("add")
	s.Refresh(ctx)
	return created, nil
}

// Edit applies mutator to the member, then refreshes.
func (s *Service) Edit(ctx context.Context, identity domain.Identity, id string, mutator func(*domain.Member) error) (domain.Member, error) {
	var updated domain.Member
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var txErr error
		updated, txErr = tx.UpdateMember(id, mutator)
		return txErr
	})
	if err != nil {
		return domain.Member{}, s.storeErr("update", err)
	}
	s.met.countMutation("edit")
	s.Refresh(ctx)
	return updated, nil
}

// Delete removes a member under the deletion policy. Authorization and the
// children check both run before any side effect; the image asset is removed
// best-effort before the record; a successful delete enters the transient
// confirmation state and schedules the refresh that clears it.
func (s *Service) Delete(ctx context.Context, identity domain.Identity, id string) error {
	member, ok := s.store.GetMember(id)
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityMember, ID: id}
	}

	if decision := domain.CanDelete(identity, member); !decision.Allowed {
		s.met.countRefusal("authorization")
		return domain.AuthorizationError{Identity: identity, MemberID: id, Reason: decision.Reason}
	}

	var childIDs []string
	if err := s.store.View(ctx, func(v domain.TransactionView) error {
		for _, child := range v.ChildrenOf(id) {
			childIDs = append(childIDs, child.ID)
		}
		return nil
	}); err != nil {
		return s.storeErr("children check", err)
	}
	if len(childIDs) > 0 {
		s.met.countRefusal("children")
		return domain.ReferentialIntegrityError{MemberID: id, ChildIDs: childIDs}
	}

	s.setState(StateDeleting)
	s.cleanupAsset(ctx, member)

	if _, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteMember(id)
	}); err != nil {
		s.restoreSnapshotState()
		return s.storeErr("delete", err)
	}

	s.met.countMutation("delete")
	s.setState(StateDeleteSucceeded)
	s.schedule(s.deleteDelay, func() { s.Refresh(context.Background()) })
	return nil
}

// AttachPhoto stores image bytes for a member and points its ImageURL at the
// new object. The previous owned image, if any, is removed best-effort.
func (s *Service) AttachPhoto(ctx context.Context, identity domain.Identity, id, filename, contentType string, r io.Reader) (domain.Member, error) {
	if s.blobs == nil {
		return domain.Member{}, fmt.Errorf("photo upload unavailable: no blob store configured")
	}
	previous, ok := s.store.GetMember(id)
	if !ok {
		return domain.Member{}, domain.ErrNotFound{Entity: domain.EntityMember, ID: id}
	}

	ext := strings.ToLower(filepath.Ext(filename))
	key := fmt.Sprintf("members/%s/%s%s", id, uuid.NewString(), ext)
	info, err := s.blobs.Put(ctx, key, r, blob.PutOptions{ContentType: contentType})
	if err != nil {
		return domain.Member{}, fmt.Errorf("store photo: %w", err)
	}
	imageURL := info.URL
	if imageURL == "" {
		imageURL = s.assets.URLFor(key)
	}

	updated, err := s.Edit(ctx, identity, id, func(m *domain.Member) error {
		m.ImageURL = &imageURL
		return nil
	})
	if err != nil {
		return domain.Member{}, err
	}
	s.cleanupAsset(ctx, previous)
	return updated, nil
}

// cleanupAsset deletes the member's image when its URL belongs to the
// configured asset base. Failures are logged and counted, never propagated.
func (s *Service) cleanupAsset(ctx context.Context, member domain.Member) {
	if s.blobs == nil || member.ImageURL == nil {
		return
	}
	key, owned := s.assets.KeyFor(*member.ImageURL)
	if !owned {
		return
	}
	if _, err := s.blobs.Delete(ctx, key); err != nil {
		s.met.countAssetCleanupFailure()
		s.log.Warn("image cleanup failed", "member_id", member.ID, "key", key, "error", err)
	}
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// restoreSnapshotState derives the state from the snapshot after a failed
// mutation left a transient state behind.
func (s *Service) restoreSnapshotState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.members) == 0 {
		s.state = StateEmpty
	} else {
		s.state = StatePopulated
	}
}

// storeErr wraps backend failures but passes rule violations through so the
// caller can distinguish policy from infrastructure.
func (s *Service) storeErr(op string, err error) error {
	if _, ok := err.(domain.RuleViolationError); ok {
		return err
	}
	if _, ok := err.(domain.ErrNotFound); ok {
		return err
	}
	return domain.StoreError{Op: op, Err: err}
}

package family

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"kintree/internal/blob"
	blobmem "kintree/internal/infra/blob/memory"
	storemem "kintree/internal/infra/persistence/memory"
	"kintree/pkg/domain"
)

var (
	alice = domain.Identity{UID: "alice"}
	bob   = domain.Identity{UID: "bob"}
	admin = domain.Identity{UID: "root", Admin: true}
)

// trackingStore counts write transactions so tests can assert that refused
// deletes never reach the store.
type trackingStore struct {
	*storemem.Store
	txCalls int
}

func (s *trackingStore) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	s.txCalls++
	return s.Store.RunInTransaction(ctx, fn)
}

// failingViewStore simulates a backend outage on reads.
type failingViewStore struct {
	domain.MemberStore
}

func (failingViewStore) View(context.Context, func(domain.TransactionView) error) error {
	return errors.New("backend down")
}

// failingDeleteBlobs wraps a blob store whose Delete always errors.
type failingDeleteBlobs struct {
	blob.Store
}

func (failingDeleteBlobs) Delete(context.Context, string) (bool, error) {
	return false, errors.New("object store unavailable")
}

type fixture struct {
	store   *trackingStore
	blobs   *blobmem.Store
	svc     *Service
	delayed []func()
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store: &trackingStore{Store: storemem.NewStore(nil)},
		blobs: blobmem.New(),
	}
	opts = append(opts, WithScheduler(func(_ time.Duration, fn func()) {
		f.delayed = append(f.delayed, fn)
	}))
	f.svc = NewService(f.store, f.blobs, opts...)
	return f
}

func (f *fixture) runDelayed() {
	for _, fn := range f.delayed {
		fn()
	}
	f.delayed = nil
}

func (f *fixture) seedMember(t *testing.T, identity domain.Identity, m domain.Member) domain.Member {
	t.Helper()
	created, err := f.svc.Add(context.Background(), identity, m)
	if err != nil {
		t.Fatalf("seed member: %v", err)
	}
	return created
}

func TestServiceStartsLoading(t *testing.T) {
	f := newFixture(t)
	if got := f.svc.State(); got != StateLoading {
		t.Fatalf("initial state = %s, want %s", got, StateLoading)
	}
}

func TestRefreshPopulatesSnapshot(t *testing.T) {
	f := newFixture(t)
	f.seedMember(t, alice, domain.Member{Name: "Ada"})

	f.svc.Refresh(context.Background())
	if got := f.svc.State(); got != StatePopulated {
		t.Fatalf("state = %s, want %s", got, StatePopulated)
	}
	if members := f.svc.Members(); len(members) != 1 || members[0].Name != "Ada" {
		t.Fatalf("unexpected snapshot: %+v", members)
	}
}

func TestRefreshEmptyStore(t *testing.T) {
	f := newFixture(t)
	f.svc.Refresh(context.Background())
	if got := f.svc.State(); got != StateEmpty {
		t.Fatalf("state = %s, want %s", got, StateEmpty)
	}
}

func TestRefreshFailsOpenToEmpty(t *testing.T) {
	backing := storemem.NewStore(nil)
	svc := NewService(failingViewStore{MemberStore: backing}, nil)
	svc.Refresh(context.Background())
	if got := svc.State(); got != StateEmpty {
		t.Fatalf("state = %s, want %s", got, StateEmpty)
	}
	if members := svc.Members(); len(members) != 0 {
		t.Fatalf("expected empty snapshot, got %d members", len(members))
	}
}

func TestAddCreditsCreatorAndRefreshes(t *testing.T) {
	f := newFixture(t)
	created := f.seedMember(t, alice, domain.Member{Name: "Ada"})
	if created.CreatedBy != "alice" {
		t.Fatalf("CreatedBy = %q, want alice", created.CreatedBy)
	}
	if got := f.svc.State(); got != StatePopulated {
		t.Fatalf("add should refresh the snapshot, state = %s", got)
	}
}

func TestEditReloadsSnapshot(t *testing.T) {
	f := newFixture(t)
	created := f.seedMember(t, alice, domain.Member{Name: "Ada"})

	if _, err := f.svc.Edit(context.Background(), alice, created.ID, func(m *domain.Member) error {
		m.Name = "Ada Lovelace"
		return nil
	}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	members := f.svc.Members()
	if len(members) != 1 || members[0].Name != "Ada Lovelace" {
		t.Fatalf("snapshot not reloaded after edit: %+v", members)
	}
}

func TestDeleteRefusedForNonOwnerBeforeSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	info, err := f.blobs.Put(ctx, "members/m/p.jpg", strings.NewReader("img"), blob.PutOptions{})
	if err != nil {
		t.Fatalf("put blob: %v", err)
	}
	imageURL := "http://local.blob/" + info.Key
	created := f.seedMember(t, alice, domain.Member{Name: "Ada", ImageURL: &imageURL})
	txBefore := f.store.txCalls

	err = f.svc.Delete(ctx, bob, created.ID)
	var authErr domain.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
	if f.store.txCalls != txBefore {
		t.Fatalf("refused delete reached the store")
	}
	if _, err := f.blobs.Head(ctx, "members/m/p.jpg"); err != nil {
		t.Fatalf("refused delete touched the asset: %v", err)
	}
}

func TestDeleteRefusedWhileChildrenExist(t *testing.T) {
	f := newFixture(t)
	parent := f.seedMember(t, alice, domain.Member{Name: "parent"})
	child := f.seedMember(t, alice, domain.Member{Name: "child", ParentID: &parent.ID})
	txBefore := f.store.txCalls

	err := f.svc.Delete(context.Background(), admin, parent.ID)
	var refErr domain.ReferentialIntegrityError
	if !errors.As(err, &refErr) {
		t.Fatalf("expected ReferentialIntegrityError, got %v", err)
	}
	if len(refErr.ChildIDs) != 1 || refErr.ChildIDs[0] != child.ID {
		t.Fatalf("unexpected child ids: %v", refErr.ChildIDs)
	}
	if f.store.txCalls != txBefore {
		t.Fatalf("refused delete reached the store")
	}
}

func TestDeleteMissingMember(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Delete(context.Background(), admin, "ghost")
	var notFound domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteRemovesAssetThenRecordThenRefreshes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.blobs.Put(ctx, "members/m/p.jpg", strings.NewReader("img"), blob.PutOptions{}); err != nil {
		t.Fatalf("put blob: %v", err)
	}
	imageURL := "http://local.blob/members/m/p.jpg"
	created := f.seedMember(t, alice, domain.Member{Name: "Ada", ImageURL: &imageURL})

	if err := f.svc.Delete(ctx, alice, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := f.svc.State(); got != StateDeleteSucceeded {
		t.Fatalf("state = %s, want %s", got, StateDeleteSucceeded)
	}
	if _, err := f.blobs.Head(ctx, "members/m/p.jpg"); err == nil {
		t.Fatalf("asset should be gone")
	}
	if _, ok := f.store.GetMember(created.ID); ok {
		t.Fatalf("record should be gone")
	}

	// The scheduled refresh clears the transient confirmation state.
	f.runDelayed()
	if got := f.svc.State(); got != StateEmpty {
		t.Fatalf("state after delayed refresh = %s, want %s", got, StateEmpty)
	}
}

func TestDeleteProceedsWhenAssetCleanupFails(t *testing.T) {
	backing := storemem.NewStore(nil)
	blobs := failingDeleteBlobs{Store: blobmem.New()}
	var delayed []func()
	svc := NewService(backing, blobs, WithScheduler(func(_ time.Duration, fn func()) {
		delayed = append(delayed, fn)
	}))
	imageURL := "http://local.blob/members/m/p.jpg"
	created, err := svc.Add(context.Background(), alice, domain.Member{Name: "Ada", ImageURL: &imageURL})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := svc.Delete(context.Background(), alice, created.ID); err != nil {
		t.Fatalf("asset failure must not block record delete: %v", err)
	}
	if _, ok := backing.GetMember(created.ID); ok {
		t.Fatalf("record should be gone despite asset failure")
	}
}

func TestDeleteForeignImageURLUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.blobs.Put(ctx, "members/m/p.jpg", strings.NewReader("img"), blob.PutOptions{}); err != nil {
		t.Fatalf("put blob: %v", err)
	}
	foreign := "https://cdn.elsewhere.com/members/m/p.jpg"
	created := f.seedMember(t, alice, domain.Member{Name: "Ada", ImageURL: &foreign})

	if err := f.svc.Delete(ctx, alice, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.blobs.Head(ctx, "members/m/p.jpg"); err != nil {
		t.Fatalf("foreign URL must not trigger blob deletion: %v", err)
	}
}

func TestTreeBuiltFromSnapshot(t *testing.T) {
	f := newFixture(t)
	parent := f.seedMember(t, alice, domain.Member{Name: "parent"})
	f.seedMember(t, alice, domain.Member{Name: "child", ParentID: &parent.ID})

	roots := f.svc.Tree()
	if len(roots) != 1 || roots[0].Member.ID != parent.ID {
		t.Fatalf("unexpected forest: %+v", roots)
	}
	if len(roots[0].Children) != 1 {
		t.Fatalf("expected one child node")
	}
}

func TestAttachPhotoSetsImageURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.seedMember(t, alice, domain.Member{Name: "Ada"})

	updated, err := f.svc.AttachPhoto(ctx, alice, created.ID, "portrait.jpg", "image/jpeg", strings.NewReader("img"))
	if err != nil {
		t.Fatalf("attach photo: %v", err)
	}
	if updated.ImageURL == nil {
		t.Fatalf("ImageURL not set")
	}
	key, owned := f.svc.assets.KeyFor(*updated.ImageURL)
	if !owned || !strings.HasPrefix(key, "members/"+created.ID+"/") || !strings.HasSuffix(key, ".jpg") {
		t.Fatalf("unexpected asset key %q (owned=%v)", key, owned)
	}
	if _, err := f.blobs.Head(ctx, key); err != nil {
		t.Fatalf("photo not stored: %v", err)
	}
}

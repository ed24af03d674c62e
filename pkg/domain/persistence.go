package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	CreateMember(Member) (Member, error)
	UpdateMember(id string, mutator func(*Member) error) (Member, error)
	DeleteMember(id string) error
	FindMember(id string) (Member, bool)
	ListMembers() []Member
}

// TransactionView provides read-only access to snapshot data for rules and
// pre-commit checks.
type TransactionView interface {
	ListMembers() []Member
	FindMember(id string) (Member, bool)
	ChildrenOf(id string) []Member
}

// MemberStore is a minimal abstraction over durable backends. It mirrors the
// subset of store capabilities used directly by higher layers.
type MemberStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetMember(id string) (Member, bool)
	ListMembers() []Member
}

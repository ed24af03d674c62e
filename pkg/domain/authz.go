package domain

import "fmt"

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Deny reasons returned by the member authorization policy.
const (
	DenyNotOwner        = "caller is neither an administrator nor the member's creator"
	DenyUnauthenticated = "caller identity is empty"
)

// Allow is the positive decision.
func Allow() Decision { return Decision{Allowed: true} }

// Deny carries the refusal reason back to the caller.
func Deny(reason string) Decision { return Decision{Reason: reason} }

// CanDelete decides whether identity may delete the given member:
// administrators always may, otherwise only the member's creator.
func CanDelete(identity Identity, member Member) Decision {
	if identity.UID == "" && !identity.Admin {
		return Deny(DenyUnauthenticated)
	}
	if identity.Admin {
		return Allow()
	}
	if member.CreatedBy != "" && member.CreatedBy == identity.UID {
		return Allow()
	}
	return Deny(DenyNotOwner)
}

// AuthorizationError reports a refused operation with the policy reason.
type AuthorizationError struct {
	Identity Identity
	MemberID string
	Reason   string
}

func (e AuthorizationError) Error() string {
	return fmt.Sprintf("identity %s may not act on member %s: %s", e.Identity.UID, e.MemberID, e.Reason)
}

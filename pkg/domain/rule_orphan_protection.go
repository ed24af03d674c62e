package domain

import (
	"context"
	"fmt"
)

// OrphanProtectionRule blocks deleting a member that still has children.
// The lifecycle controller checks the same condition before issuing the
// delete; the rule is the transactional backstop so no backend can commit a
// delete that orphans children.
type OrphanProtectionRule struct{}

// Name identifies the rule in violation reports.
func (OrphanProtectionRule) Name() string { return "orphan_protection" }

// Evaluate inspects delete changes and blocks any whose target is still
// referenced as a parent in the post-transaction view.
func (OrphanProtectionRule) Evaluate(_ context.Context, view RuleView, changes []Change) (Result, error) {
	res := Result{}
	for _, change := range changes {
		if change.Entity != EntityMember || change.Action != ActionDelete {
			continue
		}
		deleted, ok := change.Before.(Member)
		if !ok {
			continue
		}
		children := view.ChildrenOf(deleted.ID)
		if len(children) == 0 {
			continue
		}
		res.Violations = append(res.Violations, Violation{
			Rule:     "orphan_protection",
			Severity: SeverityBlock,
			Message:  fmt.Sprintf("member %s still has %d child(ren) and cannot be deleted", deleted.ID, len(children)),
			Entity:   EntityMember,
			EntityID: deleted.ID,
		})
	}
	return res, nil
}

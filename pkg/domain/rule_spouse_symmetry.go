package domain

import (
	"context"
	"fmt"
)

// SpouseSymmetryRule reports one-way spouse pointers left behind by a
// transaction. Spouse references are stored one-directionally, so asymmetry
// is legal; the rule surfaces it at warn severity and never blocks commit.
type SpouseSymmetryRule struct{}

// Name identifies the rule in violation reports.
func (SpouseSymmetryRule) Name() string { return "spouse_symmetry" }

// Evaluate checks members touched by the transaction for spouse pointers
// that are dangling or not reciprocated.
func (SpouseSymmetryRule) Evaluate(_ context.Context, view RuleView, changes []Change) (Result, error) {
	res := Result{}
	for _, change := range changes {
		if change.Entity != EntityMember || change.After == nil {
			continue
		}
		member, ok := change.After.(Member)
		if !ok || member.SpouseID == nil {
			continue
		}
		spouse, found := view.FindMember(*member.SpouseID)
		switch {
		case !found:
			res.Violations = append(res.Violations, spouseWarning(member.ID,
				fmt.Sprintf("member %s references missing spouse %s", member.ID, *member.SpouseID)))
		case spouse.SpouseID == nil || *spouse.SpouseID != member.ID:
			res.Violations = append(res.Violations, spouseWarning(member.ID,
				fmt.Sprintf("member %s spouse pointer to %s is not reciprocated", member.ID, spouse.ID)))
		}
	}
	return res, nil
}

func spouseWarning(entityID, message string) Violation {
	return Violation{
		Rule:     "spouse_symmetry",
		Severity: SeverityWarn,
		Message:  message,
		Entity:   EntityMember,
		EntityID: entityID,
	}
}

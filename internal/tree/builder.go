// Package tree reconstructs the family forest from a flat member collection.
package tree

import "kintree/pkg/domain"

// Node is the ephemeral rendering structure pairing a member with its
// children and resolved spouse. Forests are rebuilt from scratch on every
// pass and never mutated in place.
type Node struct {
	Member   domain.Member  `json:"member"`
	Spouse   *domain.Member `json:"spouse,omitempty"`
	Children []*Node        `json:"children,omitempty"`
}

// builder carries the bookkeeping for a single Build pass.
type builder struct {
	members []domain.Member
	index   map[string]domain.Member
	placed  map[string]bool
}

// Build maps a flat member collection to a forest of root nodes.
//
// Placement invariant: every member with a unique id occupies exactly one
// primary position in the forest, regardless of cyclic or dangling parent
// references. Spouse attachment is lookup-only and never affects placement,
// so a parentless member who is also someone's spouse appears both as that
// node's spouse and as its own root. Children keep input iteration order.
func Build(members []domain.Member) []*Node {
	b := &builder{
		members: members,
		index:   make(map[string]domain.Member, len(members)),
		placed:  make(map[string]bool, len(members)),
	}
	for _, m := range members {
		if m.ID == "" {
			continue
		}
		if _, dup := b.index[m.ID]; dup {
			continue
		}
		b.index[m.ID] = m
	}

	var roots []*Node
	for _, m := range members {
		if m.ID == "" || b.placed[m.ID] {
			continue
		}
		if b.isRoot(m) {
			roots = append(roots, b.descend(m))
		}
	}

	// Cycle fallback: members whose ancestry never reaches a root (mutual or
	// self parent references) are promoted in input order until none remain.
	for {
		next, ok := b.firstUnplaced()
		if !ok {
			break
		}
		roots = append(roots, b.descend(next))
	}
	return roots
}

// isRoot holds when the member has no parent reference, the reference is
// dangling, or the parent was already placed without claiming this member.
func (b *builder) isRoot(m domain.Member) bool {
	if m.ParentID == nil || *m.ParentID == "" {
		return true
	}
	parent, ok := b.index[*m.ParentID]
	if !ok {
		return true
	}
	return b.placed[parent.ID]
}

func (b *builder) firstUnplaced() (domain.Member, bool) {
	for _, m := range b.members {
		if m.ID == "" || b.placed[m.ID] {
			continue
		}
		return m, true
	}
	return domain.Member{}, false
}

// descend places m, attaches its spouse, and recursively collects its
// not-yet-placed children. Marking before recursing keeps malformed inputs
// from looping forever.
func (b *builder) descend(m domain.Member) *Node {
	b.placed[m.ID] = true
	node := &Node{Member: domain.CloneMember(m)}
	if m.SpouseID != nil {
		if spouse, ok := b.index[*m.SpouseID]; ok {
			cp := domain.CloneMember(spouse)
			node.Spouse = &cp
		}
	}
	for _, candidate := range b.members {
		if candidate.ID == "" || b.placed[candidate.ID] {
			continue
		}
		if candidate.ParentID == nil || *candidate.ParentID != m.ID {
			continue
		}
		node.Children = append(node.Children, b.descend(candidate))
	}
	return node
}

// Count returns the number of primary positions in the forest.
func Count(roots []*Node) int {
	total := 0
	for _, r := range roots {
		total += 1 + Count(r.Children)
	}
	return total
}

// Walk visits every primary node in depth-first order.
func Walk(roots []*Node, visit func(*Node)) {
	for _, r := range roots {
		visit(r)
		Walk(r.Children, visit)
	}
}

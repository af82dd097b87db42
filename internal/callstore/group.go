package callstore

// Group is an ad-hoc set of Call references plus an optional focal
// call-id, used to present several related calls (e.g. a transfer chain)
// as one view. A Group holds no ownership over the calls it references,
// it is a pure reference set (spec.md §3 "Call-group").
type Group struct {
	CallIDs map[string]struct{}
	Focal   string // empty if no call is focal
}

// NewGroup creates an empty group.
func NewGroup() *Group {
	return &Group{CallIDs: make(map[string]struct{})}
}

// Add inserts callID into the group.
func (g *Group) Add(callID string) {
	g.CallIDs[callID] = struct{}{}
}

// Remove drops callID from the group; clears Focal if it was the focal call.
func (g *Group) Remove(callID string) {
	delete(g.CallIDs, callID)
	if g.Focal == callID {
		g.Focal = ""
	}
}

// Contains is the group's O(1) membership predicate (spec.md §3 invariant).
func (g *Group) Contains(callID string) bool {
	_, ok := g.CallIDs[callID]
	return ok
}

// SetFocal designates callID as the group's focal call. It is a no-op if
// callID is not a member.
func (g *Group) SetFocal(callID string) {
	if g.Contains(callID) {
		g.Focal = callID
	}
}

// NewGroupFromXCalls builds a group from seed's transitive xcalls closure
// within the given lookup function, with seed as the focal call, the
// natural grouping for a transfer/pickup chain (spec.md §11 supplement,
// grounded on sngrep's call-group view).
func NewGroupFromXCalls(seed *Call, lookup func(callID string) (*Call, bool)) *Group {
	g := NewGroup()
	g.Add(seed.CallID)
	g.Focal = seed.CallID

	queue := []string{seed.CallID}
	seen := map[string]struct{}{seed.CallID: {}}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		call, ok := lookup(id)
		if !ok {
			continue
		}
		for related := range call.XCalls {
			if _, done := seen[related]; done {
				continue
			}
			seen[related] = struct{}{}
			g.Add(related)
			queue = append(queue, related)
		}
	}
	return g
}

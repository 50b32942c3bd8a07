package session

// DecisionSet records which account ids were kept vs. unfollowed. The two
// sets are disjoint, grow monotonically, and inserts are idempotent; insertion
// order is preserved for persistence.
type DecisionSet struct {
	kept          []string
	unfollowed    []string
	keptSet       map[string]struct{}
	unfollowedSet map[string]struct{}
}

// NewDecisionSet builds a decision set from persisted id lists, deduplicating
// and dropping any id that appears in both lists from the later one (kept
// loads first, so unfollowed loses the conflict; such a record can only come
// from a corrupt store).
func NewDecisionSet(kept, unfollowed []string) *DecisionSet {
	d := &DecisionSet{
		keptSet:       make(map[string]struct{}),
		unfollowedSet: make(map[string]struct{}),
	}
	for _, id := range kept {
		d.AddKept(id)
	}
	for _, id := range unfollowed {
		d.AddUnfollowed(id)
	}
	return d
}

// AddKept records a keep decision. Reports whether the set changed; ids
// already decided either way are left untouched.
func (d *DecisionSet) AddKept(id string) bool {
	if d.Decided(id) {
		return false
	}
	d.keptSet[id] = struct{}{}
	d.kept = append(d.kept, id)
	return true
}

// AddUnfollowed records an unfollow decision. Reports whether the set
// changed; ids already decided either way are left untouched.
func (d *DecisionSet) AddUnfollowed(id string) bool {
	if d.Decided(id) {
		return false
	}
	d.unfollowedSet[id] = struct{}{}
	d.unfollowed = append(d.unfollowed, id)
	return true
}

// Decided reports whether id is in either set.
func (d *DecisionSet) Decided(id string) bool {
	if _, ok := d.keptSet[id]; ok {
		return true
	}
	_, ok := d.unfollowedSet[id]
	return ok
}

// Kept returns the kept ids in insertion order.
func (d *DecisionSet) Kept() []string {
	return append([]string(nil), d.kept...)
}

// Unfollowed returns the unfollowed ids in insertion order.
func (d *DecisionSet) Unfollowed() []string {
	return append([]string(nil), d.unfollowed...)
}

// Count returns the total number of decided ids.
func (d *DecisionSet) Count() int {
	return len(d.kept) + len(d.unfollowed)
}

package selection

// Set is an insertion-ordered set of account ids. Once frozen it rejects
// every mutation.
type Set struct {
	ids    []string
	index  map[string]struct{}
	frozen bool
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{index: make(map[string]struct{})}
}

// Add appends id unless it is already present. It returns false for
// duplicates and on a frozen set.
func (s *Set) Add(id string) bool {
	if s.frozen {
		return false
	}
	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = struct{}{}
	s.ids = append(s.ids, id)
	return true
}

// Replace discards the current contents and adds ids in order.
func (s *Set) Replace(ids []string) bool {
	if s.frozen {
		return false
	}
	s.ids = nil
	s.index = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return true
}

// Contains reports whether id is in the set.
func (s *Set) Contains(id string) bool {
	_, ok := s.index[id]
	return ok
}

// IDs returns a copy of the ids in insertion order.
func (s *Set) IDs() []string {
	return append([]string(nil), s.ids...)
}

// Len returns the number of ids.
func (s *Set) Len() int {
	return len(s.ids)
}

// Freeze makes the set read-only.
func (s *Set) Freeze() {
	s.frozen = true
}

// Frozen reports whether Freeze was called.
func (s *Set) Frozen() bool {
	return s.frozen
}

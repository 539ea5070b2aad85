package collection

// Identifier is the textual form of a record's identity within a resource.
type Identifier string

// IDSet is a set of identifiers. The second pass of a collection uses it as
// the seed of already-known records and grows it as new records are accepted.
type IDSet map[Identifier]struct{}

// NewIDSet returns a set holding ids.
func NewIDSet(ids ...Identifier) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id and reports whether it was not already present.
func (s IDSet) Add(id Identifier) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Contains reports whether id is in the set.
func (s IDSet) Contains(id Identifier) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of identifiers.
func (s IDSet) Len() int { return len(s) }

// AddRecords inserts the identifiers of every record that has one.
func (s IDSet) AddRecords(res Resource, records []Record) {
	for _, rec := range records {
		if id, ok := res.IdentifierOf(rec); ok {
			s[id] = struct{}{}
		}
	}
}

// Package aggregate maintains small recency ordered indexes per entity,
// which are rebuilt incrementally as the ledger is ingested. Rows are
// copy-on-write: every state version that changes an index gets a new row.
package aggregate

// List is a set of member IDs ordered by the state version of their last
// significant update, most recent first. Versions[i] belongs to IDs[i].
type List struct {
	IDs      []string `json:"ids"`
	Versions []uint64 `json:"versions"`
}

func (l *List) indexOf(id string) int {
	for i, v := range l.IDs {
		if v == id {
			return i
		}
	}
	return -1
}

// TryUpsert moves id to the front of the list at stateVersion. It returns
// false without changes when id is already unambiguously the most recent
// member: first, and either alone or strictly newer than the second.
func (l *List) TryUpsert(id string, stateVersion uint64) bool {
	i := l.indexOf(id)
	if i == 0 && len(l.IDs) == 1 {
		return false
	}
	if i == 0 && l.Versions[1] < l.Versions[0] {
		return false
	}
	if i != -1 {
		l.IDs = append(l.IDs[:i], l.IDs[i+1:]...)
		l.Versions = append(l.Versions[:i], l.Versions[i+1:]...)
	}
	l.IDs = append([]string{id}, l.IDs...)
	l.Versions = append([]uint64{stateVersion}, l.Versions...)
	return true
}

// Len returns the number of members.
func (l *List) Len() int {
	return len(l.IDs)
}

func (l List) clone() List {
	return List{
		IDs:      append([]string{}, l.IDs...),
		Versions: append([]uint64{}, l.Versions...),
	}
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

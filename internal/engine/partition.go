package engine

import "github.com/roach88/locket/internal/store"

// Partitioned is the result of Partition. Input order is preserved within
// each group.
type Partitioned struct {
	Anchored []store.Record
	Pending  []store.Record
	Orphans  []store.Record
}

// Partition splits records by anchoring state. Dummies are dropped.
// A record with any status other than local (anchoring included) is not
// pending, so it is never submitted twice.
func Partition(records []store.Record) Partitioned {
	var p Partitioned
	for _, r := range records {
		switch {
		case r.IsDummy:
		case r.Status == store.StatusAnchored:
			p.Anchored = append(p.Anchored, r)
		case r.Status != store.StatusLocal:
		case r.Signature == "":
			p.Orphans = append(p.Orphans, r)
		default:
			p.Pending = append(p.Pending, r)
		}
	}
	return p
}

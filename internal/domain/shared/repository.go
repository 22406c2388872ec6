package shared

// Pagination is an offset window requested by a client. Stores clamp it
// with Normalize before querying, whatever the client asked for.
type Pagination struct {
	Limit  int
	Offset int
}

// Normalize returns a copy with Limit in [1, max] (def when unset) and a
// non-negative Offset.
func (p Pagination) Normalize(def, max int) Pagination {
	if p.Limit <= 0 {
		p.Limit = def
	}
	if p.Limit > max {
		p.Limit = max
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

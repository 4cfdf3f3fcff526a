package fetchgate

// Gate remembers the last issued key of one layer. It is owned by the event
// loop and is not safe for concurrent use.
type Gate struct {
	issued  string
	applied string
	gen     uint64
}

// Ticket identifies one issued request.
type Ticket struct {
	Key string
	gen uint64
}

// Admit issues key unless it equals the last issued key.
func (g *Gate) Admit(key string) (Ticket, bool) {
	if key == g.issued {
		return Ticket{}, false
	}
	g.gen++
	g.issued = key
	return Ticket{Key: key, gen: g.gen}, true
}

// Current reports whether t is still the newest issued request. Responses for
// superseded tickets must be discarded.
func (g *Gate) Current(t Ticket) bool {
	return t.gen != 0 && t.gen == g.gen && t.Key == g.issued
}

// Applied records that t's response is now the layer's data.
func (g *Gate) Applied(t Ticket) {
	if g.Current(t) {
		g.applied = t.Key
	}
}

// Failed re-arms retries for t's key by rolling issued back to the key whose
// data is currently applied.
func (g *Gate) Failed(t Ticket) {
	if g.Current(t) {
		g.issued = g.applied
	}
}

// Abandon drops the outstanding request. Its response becomes stale and its
// key may be issued again.
func (g *Gate) Abandon() {
	g.gen++
	g.issued = g.applied
}

// Reset forgets the issued key so the next Admit always issues.
func (g *Gate) Reset() {
	g.issued = ""
	g.applied = ""
}

func (g *Gate) Issued() string     { return g.issued }
func (g *Gate) AppliedKey() string { return g.applied }

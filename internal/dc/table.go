// Package dc holds the static table of Telegram datacenter addresses
// (§12 supplemented feature): the production and test network's
// per-DC IPv4/IPv6 endpoints, and a Resolve helper that turns a bare
// DC id into the (addr, port) pair internal/netdriver's Resolver and
// internal/sender's EventMigrate handling both need to actually reach
// "the named DC". spec.md's data model and §4.5/§4.6 both refer to a
// DC purely by its integer id; this package is the only place that id
// is ever turned into something dialable.
package dc

import "fmt"

// Entry is one datacenter's known addresses, grouped the way a
// MixDescriptor groups a node's reachable transports: by address
// family rather than by a single preferred one, so a caller can fall
// back when its first choice is unreachable.
type Entry struct {
	ID      int
	IPv4    string
	IPv6    string
	Port    int
	MediaDC bool // true for CDN/media-optimized sub-DCs, unused by the core table below
}

// Table is an ordered list of known DCs for one network (production or
// test).
type Table []Entry

// Production is Telegram's production DC table (5 DCs, IPv4+IPv6,
// port 443). These are the long-published, stable MTProto endpoints
// every public client library ships as its compiled-in fallback.
var Production = Table{
	{ID: 1, IPv4: "149.154.175.50", IPv6: "2001:b28:f23d:f001::a", Port: 443},
	{ID: 2, IPv4: "149.154.167.51", IPv6: "2001:67c:4e8:f002::a", Port: 443},
	{ID: 3, IPv4: "149.154.175.100", IPv6: "2001:b28:f23d:f003::a", Port: 443},
	{ID: 4, IPv4: "149.154.167.91", IPv6: "2001:67c:4e8:f004::a", Port: 443},
	{ID: 5, IPv4: "149.154.171.5", IPv6: "2001:b28:f23f:f005::a", Port: 443},
}

// Test is Telegram's test-network DC table (3 DCs, IPv4 only, port
// 443), used when a Config's Test flag (§11) is set.
var Test = Table{
	{ID: 1, IPv4: "149.154.175.10", Port: 443},
	{ID: 2, IPv4: "149.154.167.40", Port: 443},
	{ID: 3, IPv4: "149.154.175.117", Port: 443},
}

// ErrUnknownDC reports a DC id absent from the table.
type ErrUnknownDC struct {
	ID int
}

func (e *ErrUnknownDC) Error() string {
	return fmt.Sprintf("dc: unknown datacenter id %d", e.ID)
}

// Find returns the Entry for id, or ErrUnknownDC if the table has no
// such DC.
func (t Table) Find(id int) (Entry, error) {
	for _, e := range t {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, &ErrUnknownDC{ID: id}
}

// Resolve looks up id in t and returns the address to dial: the IPv6
// endpoint when preferIPv6 is set and one is published for that DC,
// the IPv4 endpoint otherwise.
func (t Table) Resolve(id int, preferIPv6 bool) (addr string, port int, ok bool) {
	e, err := t.Find(id)
	if err != nil {
		return "", 0, false
	}
	if preferIPv6 && e.IPv6 != "" {
		return e.IPv6, e.Port, true
	}
	return e.IPv4, e.Port, true
}

// Resolver returns a closure over Resolve(_, preferIPv6) whose
// signature is internal/netdriver.Resolver's underlying function type,
// so it can be assigned straight to Config.Resolver with no adapter:
//
//	cfg.Resolver = dc.Production.Resolver(false)
func (t Table) Resolver(preferIPv6 bool) func(dcID int) (addr string, port int, ok bool) {
	return func(dcID int) (string, int, bool) { return t.Resolve(dcID, preferIPv6) }
}

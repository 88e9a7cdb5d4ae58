package wire

import "errors"

// ErrEmptyRoute is returned by operations that require at least one hop.
var ErrEmptyRoute = errors.New("wire: route is empty")

// Route is an ordered, non-empty sequence of Address values describing a
// message's path. Routes are plain values; copy with Clone before mutating
// through a Modifier if the original must survive.
type Route []Address

// NewRoute builds a Route from hops, in order.
func NewRoute(hops ...Address) Route {
	r := make(Route, len(hops))
	copy(r, hops)
	return r
}

// Next returns the first hop, the destination of the next delivery.
func (r Route) Next() (Address, error) {
	if len(r) == 0 {
		return Address{}, ErrEmptyRoute
	}
	return r[0], nil
}

// Step drops the first hop, returning the remaining route.
func (r Route) Step() Route {
	if len(r) == 0 {
		return r
	}
	return r[1:]
}

// Clone returns an independent copy of the route.
func (r Route) Clone() Route {
	out := make(Route, len(r))
	copy(out, r)
	return out
}

// Reverse returns a new route with hops in the opposite order (used to
// build an onward route's matching return route from a source route).
func (r Route) Reverse() Route {
	out := make(Route, len(r))
	for i, a := range r {
		out[len(r)-1-i] = a
	}
	return out
}

// Modifier provides a fluent builder over a route copy.
type Modifier struct {
	route Route
}

// Modify starts a fluent modification of a copy of r; r itself is untouched.
func (r Route) Modify() *Modifier {
	return &Modifier{route: r.Clone()}
}

func (m *Modifier) Prepend(addr Address) *Modifier {
	m.route = append(Route{addr}, m.route...)
	return m
}

func (m *Modifier) Append(addr Address) *Modifier {
	m.route = append(m.route, addr)
	return m
}

func (m *Modifier) PopBack() *Modifier {
	if len(m.route) > 0 {
		m.route = m.route[:len(m.route)-1]
	}
	return m
}

func (m *Modifier) Route() Route {
	return m.route
}

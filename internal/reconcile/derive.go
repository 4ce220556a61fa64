// Package reconcile derives group state from member state. It is the
// single reconciliation algorithm used by the initial load, by realtime
// events and by manual refreshes; every function here is pure.
package reconcile

import (
	"github.com/cuesync/cuesyncd/internal/model"
)

// DeriveGroup returns a copy of g with its operational fields recomputed
// from current member records. Identity fields (IsGroup, MemberIDs, the IP
// and Connected placeholders) are never touched.
//
// Rules:
//   - Color: majority vote over the member pool. The pool is the connected
//     members when at least one member is connected, otherwise all members.
//     Ties break to the first-seen color in member order. An empty pool
//     keeps the group's previous color.
//   - Brightness and Effect come from the first member in MemberIDs order.
//   - On is the logical OR over all members.
func DeriveGroup(g model.Board, lookup map[string]model.Board) model.Board {
	if !g.IsGroup {
		return g
	}

	var members []model.Board
	for _, id := range g.MemberIDs {
		if b, ok := lookup[id]; ok && !b.IsGroup {
			members = append(members, b)
		}
	}
	if len(members) == 0 {
		return g
	}

	var pool []model.Board
	for _, m := range members {
		if m.Connected {
			pool = append(pool, m)
		}
	}
	if len(pool) == 0 {
		pool = members
	}

	if c, ok := majorityColor(pool); ok {
		g.Color = c
	}

	first := members[0]
	g.Brightness = first.Brightness
	g.Effect = first.Effect

	on := false
	for _, m := range members {
		if m.On {
			on = true
			break
		}
	}
	g.On = on

	return g
}

// majorityColor picks the most common color in the pool. The first-seen
// color wins ties, which keeps the result stable under reordering of
// equal-count colors.
func majorityColor(pool []model.Board) (model.Color, bool) {
	if len(pool) == 0 {
		return model.Color{}, false
	}

	counts := make(map[model.Color]int, len(pool))
	var order []model.Color
	for _, m := range pool {
		if counts[m.Color] == 0 {
			order = append(order, m.Color)
		}
		counts[m.Color]++
	}

	best := order[0]
	for _, c := range order[1:] {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best, true
}

// Lookup builds an id -> record index over the table. Callers that apply a
// single event to many groups build this once and reuse it, instead of
// re-scanning the table per group.
func Lookup(table []model.Board) map[string]model.Board {
	idx := make(map[string]model.Board, len(table))
	for _, b := range table {
		idx[b.ID] = b
	}
	return idx
}

// Table recomputes every group in the table against the table itself and
// returns a new table. Non-group records pass through unchanged.
func Table(table []model.Board) []model.Board {
	idx := Lookup(table)
	out := make([]model.Board, len(table))
	for i, b := range table {
		if b.IsGroup {
			out[i] = DeriveGroup(b, idx)
		} else {
			out[i] = b
		}
	}
	return out
}

// MemberOf reports whether id is in the group's member list.
func MemberOf(g model.Board, id string) bool {
	for _, m := range g.MemberIDs {
		if m == id {
			return true
		}
	}
	return false
}

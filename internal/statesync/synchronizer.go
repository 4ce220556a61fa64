// Package statesync keeps the device table in step with the gateway: one
// bulk fetch at startup, then realtime events, with group state re-derived
// on every pass through the rules in internal/reconcile.
package statesync

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/cuesync/cuesyncd/internal/eventbus"
	"github.com/cuesync/cuesyncd/internal/gateway"
	"github.com/cuesync/cuesyncd/internal/model"
	"github.com/cuesync/cuesyncd/internal/reconcile"
	"github.com/cuesync/cuesyncd/internal/store"
)

// Fetcher is the bulk-read half of the gateway client.
type Fetcher interface {
	FetchAll(ctx context.Context) ([]model.Board, []gateway.GroupRecord, error)
}

// Synchronizer owns the reconciliation paths. All three entry points
// (InitialLoad, HandleEvent, RefreshGroupsOnly) funnel through the same
// derivation rules.
type Synchronizer struct {
	fetcher Fetcher
	store   *store.Store
}

func New(fetcher Fetcher, st *store.Store) *Synchronizer {
	return &Synchronizer{fetcher: fetcher, store: st}
}

// InitialLoad fetches the full table once, derives group state and
// publishes it. It must complete before the realtime subscription is
// registered, so a push event can never arrive for a board the table does
// not hold yet.
func (s *Synchronizer) InitialLoad(ctx context.Context) error {
	boards, groups, err := s.fetcher.FetchAll(ctx)
	if err != nil {
		s.store.SetLastError(err.Error())
		return fmt.Errorf("initial load: %w", err)
	}

	table := buildTable(boards, groups)
	s.store.Replace(table)
	s.store.SetLoaded(true)
	s.store.SetLastError("")

	log.Info().
		Int("boards", len(boards)).
		Int("groups", len(groups)).
		Msg("Initial state loaded")
	return nil
}

// Subscribe registers the realtime handlers on the bus. Call only after
// InitialLoad has returned. Ordered subscription keeps events for the same
// board applied in stream order; pooled workers could apply an older state
// over a newer one.
func (s *Synchronizer) Subscribe(bus *eventbus.Bus) {
	bus.SubscribeOrdered(eventbus.KindStateUpdate, s.HandleEvent)
	bus.SubscribeOrdered(eventbus.KindConnectionStatus, s.HandleEvent)
}

// HandleEvent applies one realtime event to the table. Events naming a
// group id are invalid and ignored: group state is derived, never pushed.
func (s *Synchronizer) HandleEvent(ev eventbus.Event) {
	existing, ok := s.store.Get(ev.BoardID)
	if !ok {
		log.Warn().Str("board_id", ev.BoardID).Msg("Realtime event for unknown board, ignoring")
		return
	}
	if existing.IsGroup {
		log.Warn().Str("board_id", ev.BoardID).Msg("Realtime event targets a group, ignoring")
		return
	}

	s.store.Apply(func(table []model.Board) []model.Board {
		next := make([]model.Board, len(table))
		copy(next, table)

		for i := range next {
			if next[i].ID != ev.BoardID || next[i].IsGroup {
				continue
			}
			switch ev.Kind {
			case eventbus.KindStateUpdate:
				if ev.State != nil {
					next[i] = *ev.State
				}
			case eventbus.KindConnectionStatus:
				next[i].Connected = ev.Connected
			}
		}

		// One lookup shared by every affected group; event volume is high
		// relative to table size.
		idx := reconcile.Lookup(next)
		for i, b := range next {
			if b.IsGroup && reconcile.MemberOf(b, ev.BoardID) {
				next[i] = reconcile.DeriveGroup(b, idx)
			}
		}
		return next
	})
}

// RefreshGroupsOnly re-fetches the table but applies fresh data only to
// group records. Individual board state is kept current by the realtime
// channel and must not be stamped over by a slower fetch. Used after group
// membership edits.
func (s *Synchronizer) RefreshGroupsOnly(ctx context.Context) error {
	_, groups, err := s.fetcher.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("refresh groups: %w", err)
	}

	s.store.Apply(func(table []model.Board) []model.Board {
		var next []model.Board
		for _, g := range groups {
			rec := model.NewGroup(g.ID, g.Members)
			if prev, ok := findByID(table, g.ID); ok && prev.IsGroup {
				// Keep the previous derived color as the fallback seed.
				rec.Color = prev.Color
			}
			next = append(next, rec)
		}
		for _, b := range table {
			if !b.IsGroup {
				next = append(next, b)
			}
		}
		return reconcile.Table(next)
	})
	return nil
}

// buildTable converts raw groups into board records, derives group state
// and sorts groups first.
func buildTable(boards []model.Board, groups []gateway.GroupRecord) []model.Board {
	table := make([]model.Board, 0, len(boards)+len(groups))
	for _, g := range groups {
		table = append(table, model.NewGroup(g.ID, g.Members))
	}
	table = append(table, boards...)
	table = reconcile.Table(table)

	sort.SliceStable(table, func(i, j int) bool {
		return table[i].IsGroup && !table[j].IsGroup
	})
	return table
}

func findByID(table []model.Board, id string) (model.Board, bool) {
	for _, b := range table {
		if b.ID == id {
			return b, true
		}
	}
	return model.Board{}, false
}

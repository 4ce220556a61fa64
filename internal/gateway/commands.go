package gateway

import (
	"context"

	"github.com/cuesync/cuesyncd/internal/model"
	"github.com/cuesync/cuesyncd/internal/reconcile"
)

// The command methods below look the target up in the store and route to
// the board or group endpoint. Board responses carry authoritative state
// and are applied to the table; group results are reported structurally
// while the table gets the optimistic intent, pending realtime updates
// from the members themselves.

// SetPower sets power for a board or group.
func (c *Client) SetPower(ctx context.Context, id string, on bool, transition uint8) error {
	payload := map[string]any{"on": on, "transition": transition}

	if c.isGroup(id) {
		_, err := c.postGroup(ctx, id, "power", payload)
		if err != nil {
			return err
		}
		c.patchGroup(id, func(g *model.Board) { g.On = on })
		return nil
	}

	state, err := c.postBoard(ctx, id, "power", payload)
	if err != nil {
		return err
	}
	c.applyBoardState(state)
	return nil
}

// SetColor sets the RGB color for a board or group.
func (c *Client) SetColor(ctx context.Context, id string, col model.Color, transition uint8) error {
	payload := map[string]any{"r": col[0], "g": col[1], "b": col[2], "transition": transition}

	if c.isGroup(id) {
		_, err := c.postGroup(ctx, id, "color", payload)
		if err != nil {
			return err
		}
		c.patchGroup(id, func(g *model.Board) { g.Color = col })
		return nil
	}

	state, err := c.postBoard(ctx, id, "color", payload)
	if err != nil {
		return err
	}
	c.applyBoardState(state)
	return nil
}

// SetBrightness sets brightness (0-255) for a board or group.
func (c *Client) SetBrightness(ctx context.Context, id string, brightness, transition uint8) error {
	payload := map[string]any{"brightness": brightness, "transition": transition}

	if c.isGroup(id) {
		_, err := c.postGroup(ctx, id, "brightness", payload)
		if err != nil {
			return err
		}
		c.patchGroup(id, func(g *model.Board) { g.Brightness = brightness })
		return nil
	}

	state, err := c.postBoard(ctx, id, "brightness", payload)
	if err != nil {
		return err
	}
	c.applyBoardState(state)
	return nil
}

// SetEffect sets the effect index for a board or group.
func (c *Client) SetEffect(ctx context.Context, id string, effect, transition uint8) error {
	payload := map[string]any{"effect": effect, "transition": transition}

	if c.isGroup(id) {
		_, err := c.postGroup(ctx, id, "effect", payload)
		if err != nil {
			return err
		}
		c.patchGroup(id, func(g *model.Board) { g.Effect = effect })
		return nil
	}

	state, err := c.postBoard(ctx, id, "effect", payload)
	if err != nil {
		return err
	}
	c.applyBoardState(state)
	return nil
}

// SetSpeed sets the effect speed. Boards only expose this individually;
// for a group the gateway fans it out like the other group commands.
func (c *Client) SetSpeed(ctx context.Context, id string, speed uint8) error {
	payload := map[string]any{"speed": speed}

	if c.isGroup(id) {
		_, err := c.postGroup(ctx, id, "speed", payload)
		if err != nil {
			return err
		}
		c.patchGroup(id, func(g *model.Board) { g.Speed = speed })
		return nil
	}

	state, err := c.postBoard(ctx, id, "speed", payload)
	if err != nil {
		return err
	}
	c.applyBoardState(state)
	return nil
}

// SetIntensity sets the effect intensity.
func (c *Client) SetIntensity(ctx context.Context, id string, intensity uint8) error {
	payload := map[string]any{"intensity": intensity}

	if c.isGroup(id) {
		_, err := c.postGroup(ctx, id, "intensity", payload)
		if err != nil {
			return err
		}
		c.patchGroup(id, func(g *model.Board) { g.Intensity = intensity })
		return nil
	}

	state, err := c.postBoard(ctx, id, "intensity", payload)
	if err != nil {
		return err
	}
	c.applyBoardState(state)
	return nil
}

// SetPreset loads a preset on a board or group. The request carries the
// resolved preset name and, when the caller supplies one, the program BPM
// so the gateway can sync effect speed to tempo.
func (c *Client) SetPreset(ctx context.Context, id string, req PresetRequest) error {
	if c.isGroup(id) {
		_, err := c.postGroup(ctx, id, "preset", req)
		if err != nil {
			return err
		}
		// Preset contents live on the devices; the members' realtime
		// updates will re-derive the group. Nothing to patch here.
		return nil
	}

	state, err := c.postBoard(ctx, id, "preset", req)
	if err != nil {
		return err
	}
	c.applyBoardState(state)
	return nil
}

func (c *Client) isGroup(id string) bool {
	if c.store == nil {
		return false
	}
	b, ok := c.store.Get(id)
	return ok && b.IsGroup
}

// rederiveGroups recomputes every group whose membership includes boardID.
func rederiveGroups(table []model.Board, boardID string) []model.Board {
	idx := reconcile.Lookup(table)
	for i, b := range table {
		if b.IsGroup && reconcile.MemberOf(b, boardID) {
			table[i] = reconcile.DeriveGroup(b, idx)
		}
	}
	return table
}

package programs

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cuesync/cuesyncd/internal/model"
)

// Preset is one named entry of the preset catalog. Slot is the device-side
// preset number the boards load; State is the light state the slot holds,
// kept so presets can be re-synced to boards.
type Preset struct {
	Name  string      `json:"name"`
	Slot  uint8       `json:"slot"`
	State PresetState `json:"state"`
}

// PresetState mirrors the fields a device preset stores.
type PresetState struct {
	On         bool        `json:"on"`
	Brightness uint8       `json:"brightness"`
	Color      model.Color `json:"color"`
	Effect     uint8       `json:"effect"`
	Speed      uint8       `json:"speed"`
	Intensity  uint8       `json:"intensity"`
	Transition uint8       `json:"transition"`
}

// ResolvePreset maps a preset name to its device slot. Cues reference
// presets by name; the numeric slot is resolved at fire time.
func (s *Store) ResolvePreset(name string) (uint8, bool) {
	var slot uint8
	err := s.db.QueryRow(`SELECT slot FROM presets WHERE name = ?`, name).Scan(&slot)
	if err != nil {
		return 0, false
	}
	return slot, true
}

// SavePreset inserts or updates a catalog entry.
func (s *Store) SavePreset(p Preset) error {
	state, err := json.Marshal(p.State)
	if err != nil {
		return fmt.Errorf("marshal preset state: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO presets (name, slot, state) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET slot = excluded.slot, state = excluded.state
	`, p.Name, p.Slot, string(state))
	if err != nil {
		return fmt.Errorf("save preset %s: %w", p.Name, err)
	}
	return nil
}

// ListPresets returns the catalog ordered by slot.
func (s *Store) ListPresets() ([]Preset, error) {
	rows, err := s.db.Query(`SELECT name, slot, state FROM presets ORDER BY slot`)
	if err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}
	defer rows.Close()

	var out []Preset
	for rows.Next() {
		var (
			p     Preset
			state string
		)
		if err := rows.Scan(&p.Name, &p.Slot, &state); err != nil {
			return nil, fmt.Errorf("list presets: %w", err)
		}
		if err := json.Unmarshal([]byte(state), &p.State); err != nil {
			return nil, fmt.Errorf("decode preset %s: %w", p.Name, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePreset removes a catalog entry by name.
func (s *Store) DeletePreset(name string) error {
	res, err := s.db.Exec(`DELETE FROM presets WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete preset %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New("preset not found")
	}
	return nil
}

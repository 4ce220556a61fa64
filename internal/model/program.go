package model

import (
	"encoding/json"
	"time"
)

// CueAction selects what a cue does when it fires.
type CueAction string

const (
	// CueActionPreset is the default: load a preset, falling back to an
	// explicit color+effect pair, always finishing with brightness.
	CueActionPreset CueAction = "preset"
	// CueActionOn is the coarse fast path: power on only.
	CueActionOn CueAction = "on"
	// CueActionOff powers the targets off.
	CueActionOff CueAction = "off"
)

// Cue is one timestamped lighting action within a Program.
type Cue struct {
	Time       float64   `json:"time"`
	Label      string    `json:"label"`
	Targets    []string  `json:"targets"`
	Action     CueAction `json:"action,omitempty"`
	PresetName string    `json:"presetName,omitempty"`
	Preset     uint8     `json:"preset,omitempty"` // legacy numeric slot, used when PresetName is unresolvable
	Color      string    `json:"color,omitempty"`  // "#rrggbb", empty = none
	Effect     uint8     `json:"effect,omitempty"`
	Brightness uint8     `json:"brightness"`
	Transition uint8     `json:"transition,omitempty"`
	SyncRate   float64   `json:"syncRate,omitempty"` // speed multiplier relative to program BPM
}

// UnmarshalJSON applies defaults and accepts the legacy "boards" key for
// the target list. Programs written by older builds carry "boards";
// everything we write uses "targets".
func (c *Cue) UnmarshalJSON(data []byte) error {
	type alias Cue
	aux := struct {
		*alias
		Boards []string `json:"boards"`
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(c.Targets) == 0 && len(aux.Boards) > 0 {
		c.Targets = aux.Boards
	}
	if c.Action == "" {
		c.Action = CueActionPreset
	}
	if c.SyncRate == 0 {
		c.SyncRate = 1
	}
	return nil
}

// Program is an ordered cue list bound to an audio track.
type Program struct {
	ID             string    `json:"id"`
	SongName       string    `json:"songName"`
	Track          string    `json:"track,omitempty"` // external track id, two digits on the wire
	BPM            float64   `json:"bpm,omitempty"`
	DownbeatOffset float64   `json:"downbeatOffset,omitempty"`
	Cues           []Cue     `json:"cues"`
	AudioFile      string    `json:"audioFile,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	DisplayOrder   int       `json:"displayOrder"`
}

// TargetIDs returns the distinct target ids referenced by the program's
// cues, in first-seen order.
func (p *Program) TargetIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, cue := range p.Cues {
		for _, id := range cue.Targets {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

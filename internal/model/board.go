// Package model defines the wire-level data types shared between the
// gateway client, the state store and the playback engine.
package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Color is an RGB triple as sent to the boards.
type Color [3]uint8

// Hex renders the color as "#rrggbb".
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
}

// ParseHexColor parses "#rrggbb" (or "rrggbb") into a Color.
func ParseHexColor(s string) (Color, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return Color{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return Color{uint8(v >> 16), uint8(v >> 8), uint8(v)}, nil
}

// Board is one record of the unified device table. Groups share the same
// shape, discriminated by IsGroup; a group's operational fields (On,
// Brightness, Color, Effect) are derived from its members and never
// authoritative on their own.
type Board struct {
	ID         string `json:"id"`
	IP         string `json:"ip"`
	On         bool   `json:"on"`
	Brightness uint8  `json:"brightness"`
	Color      Color  `json:"color"`
	Effect     uint8  `json:"effect"`
	Speed      uint8  `json:"speed"`
	Intensity  uint8  `json:"intensity"`
	Transition uint8  `json:"transition"`
	Connected  bool   `json:"connected"`

	LEDCount *int `json:"ledCount,omitempty"`
	MaxLEDs  *int `json:"maxLeds,omitempty"`
	Universe *int `json:"universe,omitempty"`

	IsGroup   bool     `json:"isGroup,omitempty"`
	MemberIDs []string `json:"memberIds,omitempty"`
}

// NewBoard returns a board record with the gateway's registration defaults.
func NewBoard(id, ip string) Board {
	return Board{
		ID:         id,
		IP:         ip,
		Brightness: 128,
		Color:      Color{255, 255, 255},
	}
}

// NewGroup returns a group record. The IP stays empty and Connected stays
// true: both are placeholders, a group has no transport of its own.
func NewGroup(id string, members []string) Board {
	return Board{
		ID:         id,
		Brightness: 128,
		Color:      Color{255, 255, 255},
		Connected:  true,
		IsGroup:    true,
		MemberIDs:  members,
	}
}

package model

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestCueUnmarshal_Defaults(t *testing.T) {
	var c Cue
	if err := json.Unmarshal([]byte(`{"time":1.5,"targets":["a"],"brightness":200}`), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.Action != CueActionPreset {
		t.Errorf("Action = %q, want default %q", c.Action, CueActionPreset)
	}
	if c.SyncRate != 1 {
		t.Errorf("SyncRate = %v, want default 1", c.SyncRate)
	}
}

func TestCueUnmarshal_LegacyBoardsKey(t *testing.T) {
	var c Cue
	if err := json.Unmarshal([]byte(`{"time":0,"boards":["a","b"],"brightness":10}`), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(c.Targets, []string{"a", "b"}) {
		t.Errorf("Targets = %v, want legacy boards list", c.Targets)
	}
}

func TestCueUnmarshal_TargetsBeatLegacyBoards(t *testing.T) {
	var c Cue
	data := `{"time":0,"targets":["x"],"boards":["a"],"brightness":10}`
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(c.Targets, []string{"x"}) {
		t.Errorf("Targets = %v, want [x]", c.Targets)
	}
}

func TestCueMarshal_WritesTargets(t *testing.T) {
	data, err := json.Marshal(Cue{Time: 1, Targets: []string{"a"}, Action: CueActionPreset})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["targets"]; !ok {
		t.Error("marshalled cue must carry \"targets\"")
	}
	if _, ok := m["boards"]; ok {
		t.Error("marshalled cue must not carry legacy \"boards\"")
	}
}

func TestProgramTargetIDs(t *testing.T) {
	p := Program{Cues: []Cue{
		{Targets: []string{"b", "a"}},
		{Targets: []string{"a", "c"}},
		{Targets: []string{"b"}},
	}}
	got := p.TargetIDs()
	want := []string{"b", "a", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TargetIDs = %v, want %v (distinct, first-seen order)", got, want)
	}
}

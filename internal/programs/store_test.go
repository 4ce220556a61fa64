package programs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuesync/cuesyncd/internal/db"
	"github.com/cuesync/cuesyncd/internal/model"
)

func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	database, err := db.Open(filepath.Join(dir, "test.sqlite"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database.DB, dir), dir
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	s, _ := testStore(t)

	p := &model.Program{
		SongName: "Opening",
		Track:    "7",
		BPM:      128,
		Cues: []model.Cue{{
			Time:       1.5,
			Label:      "drop",
			Targets:    []string{"a", "b"},
			Action:     model.CueActionPreset,
			PresetName: "strobe",
			Brightness: 255,
			SyncRate:   1,
		}},
	}

	warnings, err := s.Save(p)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}
	if p.ID == "" {
		t.Fatal("Save must assign an id")
	}
	if p.CreatedAt.IsZero() {
		t.Fatal("Save must stamp CreatedAt")
	}

	got, err := s.Get(p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SongName != "Opening" || got.BPM != 128 || got.Track != "7" {
		t.Errorf("got = %+v", got)
	}
	if len(got.Cues) != 1 || got.Cues[0].Label != "drop" || got.Cues[0].Time != 1.5 {
		t.Errorf("cues = %+v", got.Cues)
	}
}

func TestSave_Update(t *testing.T) {
	s, _ := testStore(t)

	p := &model.Program{SongName: "v1", Cues: []model.Cue{{Targets: []string{"a"}, Color: "#ff0000"}}}
	if _, err := s.Save(p); err != nil {
		t.Fatalf("Save: %v", err)
	}

	p.SongName = "v2"
	if _, err := s.Save(p); err != nil {
		t.Fatalf("Save update: %v", err)
	}

	got, err := s.Get(p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SongName != "v2" {
		t.Errorf("SongName = %q, want v2", got.SongName)
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("list len = %d, upsert must not duplicate", len(list))
	}
}

func TestGet_NotFound(t *testing.T) {
	s, _ := testStore(t)
	if _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestList_DisplayOrder(t *testing.T) {
	s, _ := testStore(t)

	for i, name := range []string{"third", "first", "second"} {
		order := []int{3, 1, 2}[i]
		p := &model.Program{SongName: name, DisplayOrder: order, Cues: []model.Cue{{Targets: []string{"a"}, Color: "#ffffff"}}}
		if _, err := s.Save(p); err != nil {
			t.Fatalf("Save %s: %v", name, err)
		}
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"first", "second", "third"}
	for i, name := range want {
		if list[i].SongName != name {
			t.Errorf("list[%d] = %q, want %q", i, list[i].SongName, name)
		}
	}
}

func TestSave_LegacyBoardsKeySurvivesLoad(t *testing.T) {
	s, _ := testStore(t)

	// Simulate a document written by an older build.
	_, err := s.db.Exec(`
		INSERT INTO programs (id, song_name, cues, created_at)
		VALUES ('legacy', 'Old', '[{"time":0,"boards":["a"],"brightness":10}]', 0)
	`)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.Get("legacy")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Cues) != 1 || len(got.Cues[0].Targets) != 1 || got.Cues[0].Targets[0] != "a" {
		t.Errorf("legacy boards key not mapped to targets: %+v", got.Cues)
	}
	if got.Cues[0].Action != model.CueActionPreset || got.Cues[0].SyncRate != 1 {
		t.Errorf("cue defaults missing: %+v", got.Cues[0])
	}
}

func TestSave_WarningsAreAdvisory(t *testing.T) {
	s, _ := testStore(t)

	p := &model.Program{SongName: "Sloppy", Cues: []model.Cue{
		{Time: 0, Action: model.CueActionPreset}, // no targets, no preset, no color
	}}

	warnings, err := s.Save(p)
	if err != nil {
		t.Fatalf("Save must go through despite warnings: %v", err)
	}
	if len(warnings) != 2 {
		t.Errorf("warnings = %v, want no-targets and no-preset", warnings)
	}
	if _, err := s.Get(p.ID); err != nil {
		t.Errorf("warned program must still be persisted: %v", err)
	}
}

func TestDelete_RemovesProgramAndAudio(t *testing.T) {
	s, dir := testStore(t)

	audioPath := filepath.Join(dir, "song.mp3")
	if err := os.WriteFile(audioPath, []byte("mp3"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	p := &model.Program{SongName: "Doomed", AudioFile: "song.mp3", Cues: []model.Cue{{Targets: []string{"a"}, Color: "#ff0000"}}}
	if _, err := s.Save(p); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := s.Delete(p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("program still present after delete")
	}
	if _, err := os.Stat(audioPath); !os.IsNotExist(err) {
		t.Error("linked audio file should be removed")
	}
}

func TestDelete_NotFound(t *testing.T) {
	s, _ := testStore(t)
	if err := s.Delete("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPresetCatalog(t *testing.T) {
	s, _ := testStore(t)

	err := s.SavePreset(Preset{Name: "strobe", Slot: 3, State: PresetState{On: true, Brightness: 255, Effect: 12}})
	if err != nil {
		t.Fatalf("SavePreset: %v", err)
	}
	if err := s.SavePreset(Preset{Name: "ambient", Slot: 1}); err != nil {
		t.Fatalf("SavePreset: %v", err)
	}

	slot, ok := s.ResolvePreset("strobe")
	if !ok || slot != 3 {
		t.Errorf("ResolvePreset = %d/%v, want 3/true", slot, ok)
	}
	if _, ok := s.ResolvePreset("missing"); ok {
		t.Error("unknown preset should not resolve")
	}

	// Upsert moves the slot.
	if err := s.SavePreset(Preset{Name: "strobe", Slot: 5}); err != nil {
		t.Fatalf("SavePreset upsert: %v", err)
	}
	if slot, _ := s.ResolvePreset("strobe"); slot != 5 {
		t.Errorf("slot = %d after upsert, want 5", slot)
	}

	list, err := s.ListPresets()
	if err != nil {
		t.Fatalf("ListPresets: %v", err)
	}
	if len(list) != 2 || list[0].Name != "ambient" {
		t.Errorf("list = %+v, want slot order", list)
	}

	if err := s.DeletePreset("ambient"); err != nil {
		t.Fatalf("DeletePreset: %v", err)
	}
	if err := s.DeletePreset("ambient"); err == nil {
		t.Error("deleting a missing preset should error")
	}
}

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/cuesync/cuesyncd/internal/model"
	"github.com/cuesync/cuesyncd/internal/store"
)

// recordingGateway captures requests and plays back canned responses.
type recordingGateway struct {
	mu       sync.Mutex
	requests []string
	bodies   map[string]json.RawMessage
	respond  map[string]any
}

func newRecordingGateway() *recordingGateway {
	return &recordingGateway{
		bodies:  make(map[string]json.RawMessage),
		respond: make(map[string]any),
	}
}

func (g *recordingGateway) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path

		var body json.RawMessage
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&body)
		}

		g.mu.Lock()
		g.requests = append(g.requests, key)
		g.bodies[key] = body
		resp, ok := g.respond[key]
		g.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(resp)
	})
}

func (g *recordingGateway) on(key string, resp any) {
	g.mu.Lock()
	g.respond[key] = resp
	g.mu.Unlock()
}

func (g *recordingGateway) seen() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.requests))
	copy(out, g.requests)
	return out
}

func newTestClient(t *testing.T, gw *recordingGateway, st *store.Store) *Client {
	t.Helper()
	srv := httptest.NewServer(gw.handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 2*time.Second, st)
}

func TestPing(t *testing.T) {
	gw := newRecordingGateway()
	gw.on("GET /health", map[string]string{"status": "ok"})
	c := newTestClient(t, gw, nil)

	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestPing_BadStatus(t *testing.T) {
	gw := newRecordingGateway()
	c := newTestClient(t, gw, nil)

	if err := c.Ping(context.Background()); err == nil {
		t.Error("Ping should fail on non-200")
	}
}

func TestFetchAll(t *testing.T) {
	gw := newRecordingGateway()
	gw.on("GET /boards", bulkResponse{
		Boards: []model.Board{model.NewBoard("a", "10.0.0.2")},
		Groups: []GroupRecord{{ID: "g1", Members: []string{"a"}}},
	})
	c := newTestClient(t, gw, nil)

	boards, groups, err := c.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(boards) != 1 || boards[0].ID != "a" {
		t.Errorf("boards = %v", boards)
	}
	if len(groups) != 1 || groups[0].ID != "g1" || !reflect.DeepEqual(groups[0].Members, []string{"a"}) {
		t.Errorf("groups = %v", groups)
	}
}

func TestSetColor_BoardAppliesResponseAndRederivesGroups(t *testing.T) {
	green := model.Color{0, 255, 0}

	st := store.New()
	a := model.NewBoard("a", "10.0.0.2")
	a.Connected = true
	st.Replace([]model.Board{model.NewGroup("g1", []string{"a"}), a})

	authoritative := a
	authoritative.Color = green
	authoritative.On = true

	gw := newRecordingGateway()
	gw.on("POST /board/a/color", authoritative)
	c := newTestClient(t, gw, st)

	if err := c.SetColor(context.Background(), "a", green, 4); err != nil {
		t.Fatalf("SetColor: %v", err)
	}

	got, _ := st.Get("a")
	if got.Color != green || !got.On {
		t.Errorf("board state not applied: %+v", got)
	}
	g, _ := st.Get("g1")
	if g.Color != green || !g.On {
		t.Errorf("group not re-derived: %+v", g)
	}

	// Wire payload carries the channel values and the transition.
	gw.mu.Lock()
	body := gw.bodies["POST /board/a/color"]
	gw.mu.Unlock()
	var payload map[string]float64
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["g"] != 255 || payload["transition"] != 4 {
		t.Errorf("payload = %v", payload)
	}
}

func TestSetPower_GroupRoutesToGroupEndpoint(t *testing.T) {
	st := store.New()
	st.Replace([]model.Board{
		model.NewGroup("g1", []string{"a"}),
		model.NewBoard("a", "10.0.0.2"),
	})

	gw := newRecordingGateway()
	gw.on("POST /group/g1/power", GroupResult{
		GroupID:           "g1",
		SuccessfulMembers: []string{"a"},
	})
	c := newTestClient(t, gw, st)

	if err := c.SetPower(context.Background(), "g1", true, 0); err != nil {
		t.Fatalf("SetPower: %v", err)
	}

	seen := gw.seen()
	if len(seen) != 1 || seen[0] != "POST /group/g1/power" {
		t.Errorf("requests = %v, want single group call", seen)
	}

	// Optimistic patch: On set, identity intact.
	g, _ := st.Get("g1")
	if !g.On {
		t.Error("optimistic On patch missing")
	}
	if !g.IsGroup || !reflect.DeepEqual(g.MemberIDs, []string{"a"}) {
		t.Errorf("identity fields damaged: %+v", g)
	}
}

func TestSetPower_GroupPartialFailureIsNotAnError(t *testing.T) {
	st := store.New()
	st.Replace([]model.Board{model.NewGroup("g1", []string{"a", "b"})})

	gw := newRecordingGateway()
	gw.on("POST /group/g1/power", GroupResult{
		GroupID:           "g1",
		SuccessfulMembers: []string{"a"},
		FailedMembers:     []MemberFailure{{ID: "b", Error: "timeout"}},
	})
	c := newTestClient(t, gw, st)

	if err := c.SetPower(context.Background(), "g1", true, 0); err != nil {
		t.Errorf("partial failure must not surface as error: %v", err)
	}
}

func TestSetPreset_GroupSkipsOptimisticPatch(t *testing.T) {
	st := store.New()
	g := model.NewGroup("g1", []string{"a"})
	g.Color = model.Color{255, 0, 0}
	st.Replace([]model.Board{g})

	gw := newRecordingGateway()
	gw.on("POST /group/g1/preset", GroupResult{GroupID: "g1", SuccessfulMembers: []string{"a"}})
	c := newTestClient(t, gw, st)

	err := c.SetPreset(context.Background(), "g1", PresetRequest{Preset: 3, PresetName: "strobe", BPM: 120})
	if err != nil {
		t.Fatalf("SetPreset: %v", err)
	}

	after, _ := st.Get("g1")
	if !reflect.DeepEqual(after, g) {
		t.Errorf("group record must be untouched until member updates arrive: %+v", after)
	}

	gw.mu.Lock()
	body := gw.bodies["POST /group/g1/preset"]
	gw.mu.Unlock()
	var req PresetRequest
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if req.PresetName != "strobe" || req.BPM != 120 {
		t.Errorf("preset payload = %+v", req)
	}
}

func TestSetBrightness_UnknownIDTreatedAsBoard(t *testing.T) {
	st := store.New()
	gw := newRecordingGateway()
	gw.on("POST /board/x/brightness", model.NewBoard("x", ""))
	c := newTestClient(t, gw, st)

	if err := c.SetBrightness(context.Background(), "x", 10, 0); err != nil {
		t.Fatalf("SetBrightness: %v", err)
	}
	seen := gw.seen()
	if seen[0] != "POST /board/x/brightness" {
		t.Errorf("requests = %v, want board route for unknown id", seen)
	}
}

// Package gateway is the HTTP client for the lighting gateway: bulk state
// reads plus the per-board and per-group command endpoints. Commands route
// by target id: groups go to the atomic group endpoints with server-side
// fan-out, boards to the individual endpoints.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cuesync/cuesyncd/internal/model"
	"github.com/cuesync/cuesyncd/internal/store"
)

// Client talks to the gateway API. It is stateless apart from the device
// table it consults for board-vs-group routing.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      *store.Store
}

// NewClient creates a gateway client. baseURL is scheme://host:port
// without a trailing slash.
func NewClient(baseURL string, timeout time.Duration, st *store.Store) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		store:      st,
	}
}

// BaseURL returns the gateway base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping checks the gateway health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway health check: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// FetchAll performs the bulk read of the full board+group table.
func (c *Client) FetchAll(ctx context.Context) ([]model.Board, []GroupRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/boards", nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch boards: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("fetch boards: unexpected status %d", resp.StatusCode)
	}

	var bulk bulkResponse
	if err := json.NewDecoder(resp.Body).Decode(&bulk); err != nil {
		return nil, nil, fmt.Errorf("fetch boards: decode: %w", err)
	}
	return bulk.Boards, bulk.Groups, nil
}

// postBoard sends a board command and decodes the authoritative board
// state from the response.
func (c *Client) postBoard(ctx context.Context, id, op string, payload any) (*model.Board, error) {
	url := fmt.Sprintf("%s/board/%s/%s", c.baseURL, id, op)
	body, err := c.post(ctx, url, payload)
	if err != nil {
		return nil, err
	}

	var state model.Board
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("board %s %s: decode state: %w", id, op, err)
	}
	return &state, nil
}

// postGroup sends a group command and decodes the per-member result.
func (c *Client) postGroup(ctx context.Context, id, op string, payload any) (*GroupResult, error) {
	url := fmt.Sprintf("%s/group/%s/%s", c.baseURL, id, op)
	body, err := c.post(ctx, url, payload)
	if err != nil {
		return nil, err
	}

	var result GroupResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("group %s %s: decode result: %w", id, op, err)
	}
	if result.Partial() {
		log.Warn().
			Str("group_id", id).
			Str("op", op).
			Int("ok", len(result.SuccessfulMembers)).
			Int("failed", len(result.FailedMembers)).
			Msg("Group command partially failed")
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, url string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", url, resp.StatusCode)
	}
	return body, nil
}

// applyBoardState replaces one board record with the authoritative state
// from a command response and re-derives every group containing it.
func (c *Client) applyBoardState(state *model.Board) {
	if state == nil || c.store == nil {
		return
	}
	c.store.Apply(func(table []model.Board) []model.Board {
		next := make([]model.Board, len(table))
		copy(next, table)
		for i := range next {
			if next[i].ID == state.ID && !next[i].IsGroup {
				next[i] = *state
			}
		}
		return rederiveGroups(next, state.ID)
	})
}

// patchGroup optimistically applies mutate to the group's derived fields.
// Identity fields are protected structurally: mutate receives a copy and
// the patch below writes back only the operational fields.
func (c *Client) patchGroup(id string, mutate func(*model.Board)) {
	if c.store == nil {
		return
	}
	c.store.Apply(func(table []model.Board) []model.Board {
		next := make([]model.Board, len(table))
		copy(next, table)
		for i := range next {
			if next[i].ID != id || !next[i].IsGroup {
				continue
			}
			patched := next[i]
			mutate(&patched)
			// Carry over only the derived operational fields.
			next[i].On = patched.On
			next[i].Brightness = patched.Brightness
			next[i].Color = patched.Color
			next[i].Effect = patched.Effect
			next[i].Speed = patched.Speed
			next[i].Intensity = patched.Intensity
			next[i].Transition = patched.Transition
		}
		return next
	})
}

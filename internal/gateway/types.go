package gateway

import (
	"github.com/cuesync/cuesyncd/internal/model"
)

// GroupRecord is the raw group shape of the bulk read. The synchronizer
// converts it into a unified Board record with IsGroup set.
type GroupRecord struct {
	ID      string   `json:"id"`
	Members []string `json:"members"`
}

// bulkResponse is the payload of GET /boards.
type bulkResponse struct {
	Boards []model.Board `json:"boards"`
	Groups []GroupRecord `json:"groups"`
}

// MemberFailure describes one member that rejected a group command.
type MemberFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// GroupResult is the outcome of one atomic group command. A partial
// failure is reported here, never as an error to the caller.
type GroupResult struct {
	GroupID           string          `json:"group_id"`
	SuccessfulMembers []string        `json:"successful_members"`
	FailedMembers     []MemberFailure `json:"failed_members"`
	MemberStates      []model.Board   `json:"member_states"`
}

// Partial reports whether some but not all members failed.
func (r *GroupResult) Partial() bool {
	return len(r.FailedMembers) > 0
}

// PresetRequest is the payload of the board/group preset endpoints. BPM
// and SyncRate let the gateway compute an effect speed synchronized to
// tempo; with BPM omitted the device's stored preset speed applies.
type PresetRequest struct {
	Preset     uint8   `json:"preset"`
	PresetName string  `json:"preset_name,omitempty"`
	BPM        float64 `json:"bpm,omitempty"`
	SyncRate   float64 `json:"sync_rate,omitempty"`
	Transition uint8   `json:"transition"`
}

package mq

import "encoding/json"

// MemberSnapshotPayload is published by the ingest side each time a member's
// client syncs. Facets may arrive as JSON strings holding serialized JSON.
type MemberSnapshotPayload struct {
	GroupID       int64           `json:"group_id"`
	MemberName    string          `json:"member_name"`
	SnapshotID    string          `json:"snapshot_id,omitempty"`
	Skills        json.RawMessage `json:"skills,omitempty"`
	Stats         json.RawMessage `json:"stats,omitempty"`
	CollectionLog json.RawMessage `json:"collection_log,omitempty"`
	Quests        json.RawMessage `json:"quests,omitempty"`
	DiaryVars     json.RawMessage `json:"diary_vars,omitempty"`
}

package collab

import "encoding/json"

// Inbound event names. Outbound broadcasts mirror the same names.
const (
	EventJoinRoom        = "room"
	EventCreateLayer     = "client-create-layer"
	EventCreateLayerList = "client-create-layer-list"
	EventUpdateLayer     = "client-update-layer"
	EventBulkUpdateLayer = "client-bulk-update-layer"
	EventDeleteLayer     = "client-delete-layer"
	EventDeleteLayerList = "client-delete-layer-list"
	EventUpdateScheme    = "client-update-scheme"
	EventDeleteScheme    = "client-delete-scheme"
)

// BroadcastRoomAll is the reserved key of the implicit all-connections room.
// Every live connection is a member; it is never a valid mutation room.
const BroadcastRoomAll = "all"

// Envelope is the wire shape of every collaboration message.
type Envelope struct {
	Event  string          `json:"event"`
	UserID int64           `json:"userID,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// LayerChange carries the sparse fields of a single-layer mutation. The UI
// sends only the fields that changed, so every field except ID is optional.
type LayerChange struct {
	ID         int64           `json:"id"`
	LayerData  json.RawMessage `json:"layer_data,omitempty"`
	LayerOrder *int64          `json:"layer_order,omitempty"`
	Visible    *bool           `json:"visible,omitempty"`
	Locked     *bool           `json:"locked,omitempty"`
}

// SchemeChange carries the sparse fields of a scheme mutation.
type SchemeChange struct {
	ID        int64           `json:"id"`
	Name      *string         `json:"name,omitempty"`
	CarID     *int64          `json:"car_id,omitempty"`
	GuideData json.RawMessage `json:"guide_data,omitempty"`
}

// LayerRef names a single layer row, used by deletion events.
type LayerRef struct {
	ID int64 `json:"id"`
}

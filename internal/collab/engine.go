package collab

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/liverylab/paintrig/backend/internal/scheme"
)

var (
	errMissingLayerStore  = errors.New("collab: layer store is required")
	errMissingSchemeStore = errors.New("collab: scheme store is required")
)

// LayerStore is the layer persistence surface the engine mutates.
type LayerStore interface {
	GetLayer(ctx context.Context, id scheme.LayerID) (*scheme.Layer, error)
	UpdateLayer(ctx context.Context, id scheme.LayerID, patch map[string]interface{}) error
	BulkUpdateLayers(ctx context.Context, patches []scheme.LayerPatch) error
	DeleteLayer(ctx context.Context, id scheme.LayerID) error
}

// SchemeStore is the scheme persistence surface the engine mutates.
type SchemeStore interface {
	GetScheme(ctx context.Context, id scheme.SchemeID) (*scheme.Scheme, error)
	UpdateScheme(ctx context.Context, id scheme.SchemeID, patch map[string]interface{}) error
	DeleteScheme(ctx context.Context, id scheme.SchemeID) error
}

// EngineConfig describes the dependencies of the collaboration engine.
type EngineConfig struct {
	Layers  LayerStore
	Schemes SchemeStore
	Clock   func() time.Time
	Logger  *zap.Logger
}

// Engine routes inbound collaboration events: permission check first, then
// optimistic broadcast to the room, then asynchronous merge-persist. A
// persistence failure is invisible to peers; the broadcast has already gone
// out by the time the store is touched.
type Engine struct {
	registry *Registry
	guard    *Guard
	layers   LayerStore
	schemes  SchemeStore
	queue    *mutationQueue
	clock    func() time.Time
	logger   *zap.Logger
}

// NewEngine constructs the engine and its room registry.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Layers == nil {
		return nil, errMissingLayerStore
	}
	if cfg.Schemes == nil {
		return nil, errMissingSchemeStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry: NewRegistry(),
		guard:    NewGuard(cfg.Schemes),
		layers:   cfg.Layers,
		schemes:  cfg.Schemes,
		queue:    newMutationQueue(),
		clock:    clock,
		logger:   logger,
	}, nil
}

// Registry exposes the room registry, mainly for tests and diagnostics.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Attach admits an authenticated websocket connection and starts its pumps.
// The returned client's identity is immutable for the connection's lifetime.
func (e *Engine) Attach(conn *websocket.Conn, userID int64) *Client {
	client := newClient(conn, userID)
	e.registry.Add(client)
	go client.writePump()
	go client.readPump(e)
	e.logger.Info("connection admitted",
		zap.String("connection_id", client.id),
		zap.Int64("user_id", userID))
	return client
}

func (e *Engine) detach(client *Client) {
	e.registry.Remove(client)
	client.closeSend()
	e.logger.Info("connection closed",
		zap.String("connection_id", client.id),
		zap.Int64("user_id", client.userID))
}

// Drain blocks until all enqueued persistence work has completed, or the
// context expires. Used during shutdown so accepted mutations reach the store.
func (e *Engine) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.queue.Flush()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch routes one inbound message from a connection. Every per-event
// failure is logged and swallowed here; a bad event never takes down the
// connection or the service.
func (e *Engine) Dispatch(client *Client, raw []byte) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		e.logger.Warn("undecodable event",
			zap.String("connection_id", client.id),
			zap.Error(err))
		return
	}

	switch envelope.Event {
	case EventJoinRoom:
		e.handleJoin(client, envelope)
	case EventCreateLayer, EventCreateLayerList:
		e.handleCreateLayer(client, envelope, raw)
	case EventUpdateLayer:
		e.handleUpdateLayer(client, envelope, raw)
	case EventBulkUpdateLayer:
		e.handleBulkUpdateLayer(client, envelope, raw)
	case EventDeleteLayer:
		e.handleDeleteLayer(client, envelope, raw)
	case EventDeleteLayerList:
		e.handleDeleteLayerList(client, envelope, raw)
	case EventUpdateScheme:
		e.handleUpdateScheme(client, envelope, raw)
	case EventDeleteScheme:
		e.handleDeleteScheme(client, envelope, raw)
	default:
		e.logger.Warn("unknown event",
			zap.String("connection_id", client.id),
			zap.String("event", envelope.Event))
	}
}

func (e *Engine) handleJoin(client *Client, envelope Envelope) {
	roomKey, err := decodeRoomKey(envelope.Data)
	if err != nil {
		e.logger.Warn("join with invalid room key",
			zap.String("connection_id", client.id),
			zap.Error(err))
		return
	}
	if err := e.registry.Join(client, roomKey); err != nil {
		e.logger.Warn("join refused",
			zap.String("connection_id", client.id),
			zap.String("room", roomKey),
			zap.Error(err))
		return
	}
	e.logger.Debug("joined room",
		zap.String("connection_id", client.id),
		zap.String("room", roomKey))
}

// decodeRoomKey accepts the room key as a JSON string, a bare number, or an
// object with a "room" field; clients have sent all three shapes.
func decodeRoomKey(data json.RawMessage) (string, error) {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil && asString != "" {
		return asString, nil
	}
	var asNumber int64
	if err := json.Unmarshal(data, &asNumber); err == nil && asNumber > 0 {
		id, err := scheme.NewSchemeID(asNumber)
		if err != nil {
			return "", err
		}
		return id.String(), nil
	}
	var asObject struct {
		Room string `json:"room"`
	}
	if err := json.Unmarshal(data, &asObject); err == nil && asObject.Room != "" {
		return asObject.Room, nil
	}
	return "", scheme.ErrInvalidSchemeID
}

// authorize resolves the connection's room to a scheme id and runs the
// permission check. Both failure modes drop the event with no feedback to
// the sender beyond server-side logging.
func (e *Engine) authorize(ctx context.Context, client *Client, envelope Envelope) (scheme.SchemeID, bool) {
	roomKey := client.Room()
	if roomKey == "" {
		e.logger.Warn("event without active room",
			zap.String("connection_id", client.id),
			zap.String("event", envelope.Event))
		return 0, false
	}
	schemeID, err := scheme.ParseSchemeID(roomKey)
	if err != nil {
		e.logger.Warn("room key is not a scheme id",
			zap.String("connection_id", client.id),
			zap.String("room", roomKey),
			zap.Error(err))
		return 0, false
	}
	userID, err := scheme.NewUserID(envelope.UserID)
	if err != nil {
		e.logger.Warn("event without acting user",
			zap.String("connection_id", client.id),
			zap.String("event", envelope.Event),
			zap.Error(err))
		return 0, false
	}
	allowed, err := e.guard.CanMutate(ctx, userID, schemeID)
	if err != nil {
		e.logger.Error("permission lookup failed",
			zap.String("connection_id", client.id),
			zap.Int64("scheme_id", schemeID.Int64()),
			zap.Error(err))
		return 0, false
	}
	if !allowed {
		e.logger.Warn("unauthorized mutation dropped",
			zap.String("connection_id", client.id),
			zap.String("event", envelope.Event),
			zap.Int64("user_id", userID.Int64()),
			zap.Int64("scheme_id", schemeID.Int64()),
			zap.Error(ErrNotAuthorized))
		return 0, false
	}
	return schemeID, true
}

// broadcastRoom re-emits the original inbound message to the sender's room
// peers. Delivery is best effort; a slow peer drops the message.
func (e *Engine) broadcastRoom(client *Client, raw []byte) {
	for _, peer := range e.registry.Peers(client.Room(), client) {
		if !peer.enqueue(raw) {
			e.logger.Warn("peer send buffer full, message dropped",
				zap.String("connection_id", peer.id))
		}
	}
}

// broadcastAll emits a notice to every live connection except the sender,
// regardless of room membership.
func (e *Engine) broadcastAll(client *Client, message []byte) {
	for _, peer := range e.registry.All(client) {
		if !peer.enqueue(message) {
			e.logger.Warn("peer send buffer full, notice dropped",
				zap.String("connection_id", peer.id))
		}
	}
}

// stampFields is the scheme metadata stamp applied on every layer-affecting
// event and on scheme updates. The dirty flags reset so downstream renderers
// regenerate thumbnails and race exports.
func (e *Engine) stampFields(userID int64) map[string]interface{} {
	return map[string]interface{}{
		"date_modified":     e.clock().UTC().Unix(),
		"last_modified_by":  userID,
		"thumbnail_updated": false,
		"race_updated":      false,
	}
}

func (e *Engine) logPersistenceFailure(event string, key docKey, err error) {
	e.logger.Error("persistence failure",
		zap.String("event", event),
		zap.String("document_kind", string(key.kind)),
		zap.Int64("document_id", key.id),
		zap.Error(err))
}

// enqueueSchemeStamp persists the metadata stamp for a scheme, serialized on
// the scheme's document key.
func (e *Engine) enqueueSchemeStamp(event string, schemeID scheme.SchemeID, userID int64) {
	stamp := e.stampFields(userID)
	key := docKey{kind: kindScheme, id: schemeID.Int64()}
	e.queue.Enqueue(key, func() {
		if err := e.schemes.UpdateScheme(context.Background(), schemeID, stamp); err != nil {
			e.logPersistenceFailure(event, key, err)
		}
	})
}

// handleCreateLayer covers both the single and bulk create events: the layer
// rows themselves were already inserted by the REST path before the event
// fired, so only the broadcast and the scheme stamp remain.
func (e *Engine) handleCreateLayer(client *Client, envelope Envelope, raw []byte) {
	schemeID, ok := e.authorize(context.Background(), client, envelope)
	if !ok {
		return
	}
	e.broadcastRoom(client, raw)
	e.enqueueSchemeStamp(envelope.Event, schemeID, envelope.UserID)
}

func (e *Engine) handleUpdateLayer(client *Client, envelope Envelope, raw []byte) {
	var change LayerChange
	if err := json.Unmarshal(envelope.Data, &change); err != nil || change.ID <= 0 {
		e.logger.Warn("malformed layer update",
			zap.String("connection_id", client.id),
			zap.Error(err))
		return
	}
	schemeID, ok := e.authorize(context.Background(), client, envelope)
	if !ok {
		return
	}

	e.broadcastRoom(client, raw)

	layerID, err := scheme.NewLayerID(change.ID)
	if err != nil {
		e.logger.Warn("malformed layer id", zap.Int64("layer_id", change.ID))
		return
	}
	key := docKey{kind: kindLayer, id: layerID.Int64()}
	e.queue.Enqueue(key, func() {
		if err := e.persistLayerChange(context.Background(), layerID, change); err != nil {
			e.logPersistenceFailure(envelope.Event, key, err)
		}
	})
	e.enqueueSchemeStamp(envelope.Event, schemeID, envelope.UserID)
}

// persistLayerChange merges the sparse layer_data patch onto the last
// persisted document and writes the result. The re-read happens inside the
// document's serialization queue, which is what closes the read-then-write
// race between concurrent updates to the same layer.
func (e *Engine) persistLayerChange(ctx context.Context, layerID scheme.LayerID, change LayerChange) error {
	patch := map[string]interface{}{}
	if change.LayerOrder != nil {
		patch["layer_order"] = *change.LayerOrder
	}
	if change.Visible != nil {
		patch["visible"] = *change.Visible
	}
	if change.Locked != nil {
		patch["locked"] = *change.Locked
	}

	if len(change.LayerData) > 0 {
		existing, err := e.layers.GetLayer(ctx, layerID)
		if err != nil {
			return err
		}
		merged, err := scheme.MergeRaw(existing.LayerData, change.LayerData)
		if err != nil {
			return err
		}
		patch["layer_data"] = merged
	}

	if len(patch) == 0 {
		return nil
	}
	return e.layers.UpdateLayer(ctx, layerID, patch)
}

// handleBulkUpdateLayer persists each patch as an independent row update.
// Unlike the single-layer path, the bulk path writes layer_data as given
// without merging against prior state; the clients that use it send whole
// documents. The asymmetry is long-standing and preserved deliberately.
func (e *Engine) handleBulkUpdateLayer(client *Client, envelope Envelope, raw []byte) {
	var changes []LayerChange
	if err := json.Unmarshal(envelope.Data, &changes); err != nil {
		var wrapped struct {
			Layers []LayerChange `json:"layers"`
		}
		if err := json.Unmarshal(envelope.Data, &wrapped); err != nil || len(wrapped.Layers) == 0 {
			e.logger.Warn("malformed bulk layer update",
				zap.String("connection_id", client.id),
				zap.Error(err))
			return
		}
		changes = wrapped.Layers
	}
	schemeID, ok := e.authorize(context.Background(), client, envelope)
	if !ok {
		return
	}

	e.broadcastRoom(client, raw)

	for _, change := range changes {
		layerID, err := scheme.NewLayerID(change.ID)
		if err != nil {
			e.logger.Warn("bulk update skipping invalid layer id", zap.Int64("layer_id", change.ID))
			continue
		}
		fields := map[string]interface{}{}
		if len(change.LayerData) > 0 {
			fields["layer_data"] = string(change.LayerData)
		}
		if change.LayerOrder != nil {
			fields["layer_order"] = *change.LayerOrder
		}
		if change.Visible != nil {
			fields["visible"] = *change.Visible
		}
		if change.Locked != nil {
			fields["locked"] = *change.Locked
		}
		if len(fields) == 0 {
			continue
		}
		patch := scheme.LayerPatch{ID: layerID, Fields: fields}
		key := docKey{kind: kindLayer, id: layerID.Int64()}
		e.queue.Enqueue(key, func() {
			if err := e.layers.BulkUpdateLayers(context.Background(), []scheme.LayerPatch{patch}); err != nil {
				e.logPersistenceFailure(envelope.Event, key, err)
			}
		})
	}
	e.enqueueSchemeStamp(envelope.Event, schemeID, envelope.UserID)
}

func (e *Engine) handleDeleteLayer(client *Client, envelope Envelope, raw []byte) {
	var ref LayerRef
	if err := json.Unmarshal(envelope.Data, &ref); err != nil || ref.ID <= 0 {
		e.logger.Warn("malformed layer delete",
			zap.String("connection_id", client.id),
			zap.Error(err))
		return
	}
	schemeID, ok := e.authorize(context.Background(), client, envelope)
	if !ok {
		return
	}

	e.broadcastRoom(client, raw)

	layerID, _ := scheme.NewLayerID(ref.ID)
	key := docKey{kind: kindLayer, id: layerID.Int64()}
	e.queue.Enqueue(key, func() {
		if err := e.layers.DeleteLayer(context.Background(), layerID); err != nil {
			e.logPersistenceFailure(envelope.Event, key, err)
		}
	})
	e.enqueueSchemeStamp(envelope.Event, schemeID, envelope.UserID)
}

func (e *Engine) handleDeleteLayerList(client *Client, envelope Envelope, raw []byte) {
	var refs []LayerRef
	if err := json.Unmarshal(envelope.Data, &refs); err != nil || len(refs) == 0 {
		e.logger.Warn("malformed layer list delete",
			zap.String("connection_id", client.id),
			zap.Error(err))
		return
	}
	schemeID, ok := e.authorize(context.Background(), client, envelope)
	if !ok {
		return
	}

	e.broadcastRoom(client, raw)

	for _, ref := range refs {
		layerID, err := scheme.NewLayerID(ref.ID)
		if err != nil {
			e.logger.Warn("delete list skipping invalid layer id", zap.Int64("layer_id", ref.ID))
			continue
		}
		key := docKey{kind: kindLayer, id: layerID.Int64()}
		e.queue.Enqueue(key, func() {
			if err := e.layers.DeleteLayer(context.Background(), layerID); err != nil {
				e.logPersistenceFailure(envelope.Event, key, err)
			}
		})
	}
	e.enqueueSchemeStamp(envelope.Event, schemeID, envelope.UserID)
}

func (e *Engine) handleUpdateScheme(client *Client, envelope Envelope, raw []byte) {
	var change SchemeChange
	if err := json.Unmarshal(envelope.Data, &change); err != nil {
		e.logger.Warn("malformed scheme update",
			zap.String("connection_id", client.id),
			zap.Error(err))
		return
	}
	schemeID, ok := e.authorize(context.Background(), client, envelope)
	if !ok {
		return
	}

	e.broadcastRoom(client, raw)

	stamp := e.stampFields(envelope.UserID)
	notice, err := json.Marshal(Envelope{
		Event: EventUpdateScheme,
		Data: mustMarshal(map[string]interface{}{
			"id":               schemeID.Int64(),
			"date_modified":    stamp["date_modified"],
			"last_modified_by": stamp["last_modified_by"],
		}),
	})
	if err == nil {
		e.broadcastAll(client, notice)
	}

	key := docKey{kind: kindScheme, id: schemeID.Int64()}
	e.queue.Enqueue(key, func() {
		if err := e.persistSchemeChange(context.Background(), schemeID, change, stamp); err != nil {
			e.logPersistenceFailure(envelope.Event, key, err)
		}
	})
}

// persistSchemeChange merges guide_data onto the persisted document, applies
// the mutable scalar fields, and stamps the modification metadata.
func (e *Engine) persistSchemeChange(ctx context.Context, schemeID scheme.SchemeID, change SchemeChange, stamp map[string]interface{}) error {
	patch := make(map[string]interface{}, len(stamp)+3)
	for column, value := range stamp {
		patch[column] = value
	}
	if change.Name != nil {
		patch["name"] = *change.Name
	}
	if change.CarID != nil {
		patch["car_id"] = *change.CarID
	}
	if len(change.GuideData) > 0 {
		existing, err := e.schemes.GetScheme(ctx, schemeID)
		if err != nil {
			return err
		}
		merged, err := scheme.MergeRaw(existing.GuideData, change.GuideData)
		if err != nil {
			return err
		}
		patch["guide_data"] = merged
	}
	return e.schemes.UpdateScheme(ctx, schemeID, patch)
}

func (e *Engine) handleDeleteScheme(client *Client, envelope Envelope, raw []byte) {
	schemeID, ok := e.authorize(context.Background(), client, envelope)
	if !ok {
		return
	}

	// Room peers get a content-free notice; every other live session gets
	// the scheme id so dashboards can drop the entry.
	roomNotice, err := json.Marshal(Envelope{Event: EventDeleteScheme})
	if err == nil {
		e.broadcastRoom(client, roomNotice)
	}
	allNotice, err := json.Marshal(Envelope{
		Event: EventDeleteScheme,
		Data:  mustMarshal(map[string]interface{}{"id": schemeID.Int64()}),
	})
	if err == nil {
		e.broadcastAll(client, allNotice)
	}

	key := docKey{kind: kindScheme, id: schemeID.Int64()}
	e.queue.Enqueue(key, func() {
		if err := e.schemes.DeleteScheme(context.Background(), schemeID); err != nil {
			e.logPersistenceFailure(envelope.Event, key, err)
		}
	})
}

func mustMarshal(value interface{}) json.RawMessage {
	encoded, err := json.Marshal(value)
	if err != nil {
		return json.RawMessage("{}")
	}
	return encoded
}

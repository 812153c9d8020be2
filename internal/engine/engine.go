// internal/engine/engine.go
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/statroom/statroom/internal/events"
	"github.com/statroom/statroom/internal/models"
	"github.com/statroom/statroom/internal/registry"
	"github.com/statroom/statroom/internal/room"
	"github.com/statroom/statroom/internal/store"
)

// Engine is the room session state machine. It decodes inbound protocol
// frames, validates them against the room document, applies the mutation
// through the store, and fans the resulting snapshot out to every member's
// live connection.
//
// All mutations for a given room code run under that room's mutex, so the
// store read-modify-write is a strict sequence even when several clients
// fire messages at the same room simultaneously. Messages for different
// rooms proceed in parallel.
type Engine struct {
	store  store.Store
	reg    *registry.Registry
	events *events.Publisher
	log    *logrus.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(s store.Store, reg *registry.Registry, pub *events.Publisher, logger *logrus.Logger) *Engine {
	return &Engine{
		store:  s,
		reg:    reg,
		events: pub,
		log:    logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// roomLock returns the mutex serializing mutations for a room code.
func (e *Engine) roomLock(code string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[code]
	if !ok {
		l = &sync.Mutex{}
		e.locks[code] = l
	}
	return l
}

// HandleMessage processes one inbound frame from conn. Every error is
// converted to an error frame on the originating connection; nothing here
// tears down the connection or leaks across rooms.
func (e *Engine) HandleMessage(ctx context.Context, conn *registry.Conn, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		conn.WriteError("Invalid JSON")
		return
	}

	switch env.Type {
	case "create-room":
		var msg createRoomMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			conn.WriteError("Invalid JSON")
			return
		}
		e.handleCreateRoom(ctx, conn, msg)
	case "join-room":
		var msg joinRoomMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			conn.WriteError("Invalid JSON")
			return
		}
		e.handleJoinRoom(ctx, conn, msg)
	case "rejoin-room":
		var msg rejoinRoomMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			conn.WriteError("Invalid JSON")
			return
		}
		e.handleRejoinRoom(ctx, conn, msg)
	case "leave-room":
		var msg leaveRoomMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			conn.WriteError("Invalid JSON")
			return
		}
		e.handleLeaveRoom(ctx, conn, msg)
	case "update-stats":
		var msg updateStatsMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			conn.WriteError("Invalid JSON")
			return
		}
		e.handleUpdateStats(ctx, conn, msg)
	case "deal-damage":
		var msg dealDamageMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			conn.WriteError("Invalid JSON")
			return
		}
		e.handleDealDamage(ctx, conn, msg)
	default:
		conn.WriteError(fmt.Sprintf("Unknown message type: %s", env.Type))
	}
}

func (e *Engine) handleCreateRoom(ctx context.Context, conn *registry.Conn, msg createRoomMsg) {
	code := models.NormalizeRoomCode(msg.RoomCode)
	if code == "" {
		conn.WriteError("Room code required")
		return
	}

	lock := e.roomLock(code)
	lock.Lock()
	defer lock.Unlock()

	if err := e.store.CreateRoom(ctx, models.NewRoom(code)); err != nil {
		if errors.Is(err, room.ErrRoomExists) {
			conn.WriteError("Room exists")
			return
		}
		e.log.Errorf("create-room %s: %v", code, err)
		conn.WriteError("Storage error")
		return
	}

	e.log.Infof("Room %s created", code)
	conn.Write(map[string]interface{}{
		"type":     "room-created",
		"roomCode": code,
	})
	e.publish(ctx, code, "create-room", "", nil)
}

func (e *Engine) handleJoinRoom(ctx context.Context, conn *registry.Conn, msg joinRoomMsg) {
	code := models.NormalizeRoomCode(msg.RoomCode)
	if msg.Color == "" {
		conn.WriteError("Color required")
		return
	}

	lock := e.roomLock(code)
	lock.Lock()
	defer lock.Unlock()

	r, err := e.store.GetRoom(ctx, code)
	if err != nil {
		e.replyStoreError(conn, code, "join-room", err)
		return
	}

	userID := msg.UserID
	if userID == "" {
		userID = uuid.NewString()
	}
	room.AddPlayer(r, models.NewPlayer(userID, msg.Name, msg.Color))

	if err := e.store.SaveRoom(ctx, r); err != nil {
		e.replyStoreError(conn, code, "join-room", err)
		return
	}

	e.reg.Attach(conn, userID)
	e.log.Infof("User %s joined room %s", userID, code)

	conn.Write(map[string]interface{}{
		"type":     "joined-room",
		"roomCode": code,
		"userId":   userID,
	})
	e.broadcast(r)
	e.publish(ctx, code, "join-room", userID, map[string]interface{}{"name": msg.Name})
}

func (e *Engine) handleRejoinRoom(ctx context.Context, conn *registry.Conn, msg rejoinRoomMsg) {
	code := models.NormalizeRoomCode(msg.RoomCode)

	lock := e.roomLock(code)
	lock.Lock()
	defer lock.Unlock()

	r, err := e.store.GetRoom(ctx, code)
	if err != nil {
		e.replyStoreError(conn, code, "rejoin-room", err)
		return
	}

	// Rejoin never mints a player: an unknown id is fatal to the client's
	// cached identity and must be reported, not silently re-created.
	if r.FindPlayer(msg.UserID) == nil {
		conn.WriteError("Player not found")
		return
	}

	e.reg.Attach(conn, msg.UserID)
	e.log.Infof("User %s rejoined room %s", msg.UserID, code)

	conn.Write(map[string]interface{}{
		"type": "rejoined-room",
		"room": r.Clone(),
	})
	e.broadcast(r)
}

func (e *Engine) handleLeaveRoom(ctx context.Context, conn *registry.Conn, msg leaveRoomMsg) {
	code := models.NormalizeRoomCode(msg.RoomCode)

	lock := e.roomLock(code)
	lock.Lock()
	defer lock.Unlock()

	r, err := e.store.GetRoom(ctx, code)
	if err != nil {
		e.replyStoreError(conn, code, "leave-room", err)
		return
	}

	room.RemovePlayer(r, msg.UserID)

	if err := e.store.SaveRoom(ctx, r); err != nil {
		e.replyStoreError(conn, code, "leave-room", err)
		return
	}

	e.log.Infof("User %s left room %s", msg.UserID, code)
	conn.Write(map[string]interface{}{
		"type":     "left-room",
		"roomCode": code,
		"userId":   msg.UserID,
	})
	e.reg.Release(msg.UserID)
	e.broadcast(r)
	e.publish(ctx, code, "leave-room", msg.UserID, nil)
}

func (e *Engine) handleUpdateStats(ctx context.Context, conn *registry.Conn, msg updateStatsMsg) {
	code := models.NormalizeRoomCode(msg.RoomCode)

	lock := e.roomLock(code)
	lock.Lock()
	defer lock.Unlock()

	r, err := e.store.GetRoom(ctx, code)
	if err != nil {
		e.replyStoreError(conn, code, "update-stats", err)
		return
	}

	if err := room.SetStat(r, msg.UserID, msg.Field, msg.Value); err != nil {
		switch {
		case errors.Is(err, room.ErrPlayerNotFound):
			conn.WriteError("Player not found")
		case errors.Is(err, room.ErrInvalidField):
			conn.WriteError("Invalid field update")
		default:
			conn.WriteError(err.Error())
		}
		return
	}

	if err := e.store.SaveRoom(ctx, r); err != nil {
		e.replyStoreError(conn, code, "update-stats", err)
		return
	}

	e.broadcast(r)
	e.publish(ctx, code, "update-stats", msg.UserID, map[string]interface{}{
		"field": msg.Field,
		"value": msg.Value,
	})
}

// handleDealDamage applies to the target's ledger entry for the source.
// Unknown rooms or ids are ignored without a reply: damage frames arrive in
// bursts and a stale one after a leave is not a client error worth a frame.
func (e *Engine) handleDealDamage(ctx context.Context, conn *registry.Conn, msg dealDamageMsg) {
	code := models.NormalizeRoomCode(msg.RoomCode)

	lock := e.roomLock(code)
	lock.Lock()
	defer lock.Unlock()

	r, err := e.store.GetRoom(ctx, code)
	if err != nil {
		e.log.Debugf("deal-damage for missing room %s ignored", code)
		return
	}

	if err := room.AccumulateDamage(r, msg.SourceID, msg.TargetID, msg.Amount); err != nil {
		e.log.Debugf("deal-damage %s -> %s in room %s ignored: %v", msg.SourceID, msg.TargetID, code, err)
		return
	}

	if err := e.store.SaveRoom(ctx, r); err != nil {
		e.replyStoreError(conn, code, "deal-damage", err)
		return
	}

	e.broadcast(r)
	e.publish(ctx, code, "deal-damage", msg.SourceID, map[string]interface{}{
		"targetId": msg.TargetID,
		"amount":   msg.Amount,
	})
}

// CreateRoom creates an empty room on behalf of the request/response
// channel. Same lock discipline as the live protocol.
func (e *Engine) CreateRoom(ctx context.Context, rawCode string) error {
	code := models.NormalizeRoomCode(rawCode)
	if code == "" {
		return room.ErrMissingField
	}

	lock := e.roomLock(code)
	lock.Lock()
	defer lock.Unlock()

	if err := e.store.CreateRoom(ctx, models.NewRoom(code)); err != nil {
		return err
	}
	e.log.Infof("Room %s created", code)
	e.publish(ctx, code, "create-room", "", nil)
	return nil
}

// FetchRoom returns a snapshot of the room by code.
func (e *Engine) FetchRoom(ctx context.Context, rawCode string) (*models.Room, error) {
	return e.store.GetRoom(ctx, models.NormalizeRoomCode(rawCode))
}

// AddRoomPlayer adds a player over the request/response channel, before the
// client opens its live connection. Adding a name that is already a member
// is idempotent: the room comes back unchanged. Returns the snapshot and
// the member's userId.
func (e *Engine) AddRoomPlayer(ctx context.Context, rawCode, name, color string) (*models.Room, string, error) {
	code := models.NormalizeRoomCode(rawCode)
	if name == "" || color == "" {
		return nil, "", room.ErrMissingField
	}

	lock := e.roomLock(code)
	lock.Lock()
	defer lock.Unlock()

	r, err := e.store.GetRoom(ctx, code)
	if err != nil {
		return nil, "", err
	}

	for _, p := range r.Players {
		if p.Name == name {
			return r.Clone(), p.UserID, nil
		}
	}

	userID := uuid.NewString()
	room.AddPlayer(r, models.NewPlayer(userID, name, color))
	if err := e.store.SaveRoom(ctx, r); err != nil {
		return nil, "", err
	}

	e.broadcast(r)
	e.publish(ctx, code, "join-room", userID, map[string]interface{}{"name": name})
	return r.Clone(), userID, nil
}

// broadcast sends the full current snapshot to every member's live
// connection. Full-state replacement keeps clients consistent without a
// delta protocol.
func (e *Engine) broadcast(r *models.Room) {
	snapshot := r.Clone()
	payload := map[string]interface{}{
		"type": "room-update",
		"room": snapshot,
	}
	for _, conn := range e.reg.MembersOf(snapshot) {
		conn.Write(payload)
	}
}

// replyStoreError maps a store failure to the right protocol error. A
// missing room is the caller's mistake; anything else is a storage fault
// reported generically so in-memory state for other rooms stays intact.
func (e *Engine) replyStoreError(conn *registry.Conn, code, op string, err error) {
	if errors.Is(err, room.ErrRoomNotFound) {
		conn.WriteError("Room not found")
		return
	}
	e.log.Errorf("%s %s: %v", op, code, err)
	conn.WriteError("Storage error")
}

func (e *Engine) publish(ctx context.Context, code, eventType, actorID string, payload map[string]interface{}) {
	e.events.Publish(ctx, events.RoomEventRecord{
		RoomCode:  code,
		EventType: eventType,
		ActorID:   actorID,
		Payload:   payload,
	})
}

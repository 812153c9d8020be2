// internal/models/room.go
package models

import (
	"strings"
	"time"
)

// Player is a single participant in a room. Each player belongs to exactly
// one room; stats are unbounded integers (health may go negative).
type Player struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Color  string `json:"color"`
	Health int    `json:"health"`
	Energy int    `json:"energy"`
	Poison int    `json:"poison"`
	Other  string `json:"other"`

	// DamageFrom maps a source userId to the cumulative damage that player
	// has dealt to this one. Keys must always refer to current room members.
	DamageFrom map[string]int `json:"damageFrom"`
}

// NewPlayer returns a player with tracker defaults (40 starting health).
func NewPlayer(userID, name, color string) *Player {
	return &Player{
		UserID:     userID,
		Name:       name,
		Color:      color,
		Health:     40,
		Energy:     0,
		Poison:     0,
		Other:      "",
		DamageFrom: make(map[string]int),
	}
}

// Clone returns a deep copy of the player.
func (p *Player) Clone() *Player {
	cp := *p
	cp.DamageFrom = make(map[string]int, len(p.DamageFrom))
	for k, v := range p.DamageFrom {
		cp.DamageFrom[k] = v
	}
	return &cp
}

// Room is a shared session keyed by a short code. Players keep join order;
// UpdatedAt drives retention sweeping.
type Room struct {
	RoomCode  string    `json:"roomCode"`
	Players   []*Player `json:"players"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NormalizeRoomCode upper-cases a code for lookup. Codes are stored and
// compared in normalized form only.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewRoom creates an empty room with the given (normalized) code.
func NewRoom(code string) *Room {
	return &Room{
		RoomCode:  NormalizeRoomCode(code),
		Players:   []*Player{},
		UpdatedAt: time.Now().UTC(),
	}
}

// FindPlayer returns the member with the given userId, or nil.
func (r *Room) FindPlayer(userID string) *Player {
	for _, p := range r.Players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// Clone returns a deep copy of the room, safe to hand to broadcast fan-out
// after the room lock is released.
func (r *Room) Clone() *Room {
	cp := &Room{
		RoomCode:  r.RoomCode,
		Players:   make([]*Player, 0, len(r.Players)),
		UpdatedAt: r.UpdatedAt,
	}
	for _, p := range r.Players {
		cp.Players = append(cp.Players, p.Clone())
	}
	return cp
}

// Touch bumps the last-activity timestamp.
func (r *Room) Touch() {
	r.UpdatedAt = time.Now().UTC()
}

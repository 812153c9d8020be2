// internal/room/room.go
//
// Pure mutations on a room document. These functions do no I/O and no
// locking; the engine serializes calls per room code and persists the
// result. Every successful mutation bumps the room's UpdatedAt, which the
// retention sweeper uses as the staleness signal.
package room

import (
	"github.com/statroom/statroom/internal/models"
)

// StatFields is the closed set of player fields a client may write through
// update-stats. Anything else is rejected with ErrInvalidField; values are
// never clamped.
var StatFields = map[string]bool{
	"health": true,
	"energy": true,
	"poison": true,
	"other":  true,
	"name":   true,
}

// AddPlayer inserts candidate into the room, or updates the existing member
// with the same userId (re-adding is an update, not a duplicate). Join order
// is preserved for new members.
func AddPlayer(r *models.Room, candidate *models.Player) *models.Player {
	if existing := r.FindPlayer(candidate.UserID); existing != nil {
		if candidate.Name != "" {
			existing.Name = candidate.Name
		}
		if candidate.Color != "" {
			existing.Color = candidate.Color
		}
		r.Touch()
		return existing
	}
	if candidate.DamageFrom == nil {
		candidate.DamageFrom = make(map[string]int)
	}
	r.Players = append(r.Players, candidate)
	r.Touch()
	return candidate
}

// RemovePlayer removes the member with the given userId and strips that id
// from every remaining player's damage ledger, so no ledger key ever refers
// to a departed player. Removing an absent player is a no-op.
func RemovePlayer(r *models.Room, userID string) {
	idx := -1
	for i, p := range r.Players {
		if p.UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	r.Players = append(r.Players[:idx], r.Players[idx+1:]...)
	for _, p := range r.Players {
		delete(p.DamageFrom, userID)
	}
	r.Touch()
}

// SetStat writes one whitelisted field on a member. Numeric fields take an
// int value, text fields a string; a value of the wrong kind is an
// ErrInvalidField, same as an unknown field name.
func SetStat(r *models.Room, userID, field string, value interface{}) error {
	p := r.FindPlayer(userID)
	if p == nil {
		return ErrPlayerNotFound
	}
	if !StatFields[field] {
		return ErrInvalidField
	}

	switch field {
	case "health", "energy", "poison":
		n, ok := toInt(value)
		if !ok {
			return ErrInvalidField
		}
		switch field {
		case "health":
			p.Health = n
		case "energy":
			p.Energy = n
		case "poison":
			p.Poison = n
		}
	case "other", "name":
		s, ok := value.(string)
		if !ok {
			return ErrInvalidField
		}
		if field == "other" {
			p.Other = s
		} else {
			p.Name = s
		}
	}

	r.Touch()
	return nil
}

// AccumulateDamage adds amount to the target's ledger entry for source,
// creating the entry at zero if absent. Negative amounts (healing) are
// accepted without special handling. Both ids must be current members.
func AccumulateDamage(r *models.Room, sourceID, targetID string, amount int) error {
	source := r.FindPlayer(sourceID)
	target := r.FindPlayer(targetID)
	if source == nil || target == nil {
		return ErrPlayerNotFound
	}
	if target.DamageFrom == nil {
		target.DamageFrom = make(map[string]int)
	}
	target.DamageFrom[sourceID] += amount
	r.Touch()
	return nil
}

// toInt accepts int or float64 (the type encoding/json produces for JSON
// numbers) and rejects fractional values.
func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

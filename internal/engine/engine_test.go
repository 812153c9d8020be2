// internal/engine/engine_test.go
package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statroom/statroom/internal/models"
	"github.com/statroom/statroom/internal/registry"
	"github.com/statroom/statroom/internal/store"
)

func newTestEngine() (*Engine, *store.MemoryStore, *registry.Registry) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	st := store.NewMemoryStore()
	reg := registry.NewRegistry()
	return New(st, reg, nil, logger), st, reg
}

// drain empties a connection's outbound channel without blocking.
func drain(c *registry.Conn) []map[string]interface{} {
	var msgs []map[string]interface{}
	for {
		select {
		case m := <-c.OutChan:
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

func msgsOfType(msgs []map[string]interface{}, typ string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, m := range msgs {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

// joinAs runs a join-room for the given conn and returns the assigned userId.
func joinAs(t *testing.T, eng *Engine, conn *registry.Conn, code, name, color string) string {
	t.Helper()
	eng.HandleMessage(context.Background(), conn,
		[]byte(fmt.Sprintf(`{"type":"join-room","roomCode":%q,"name":%q,"color":%q}`, code, name, color)))
	msgs := drain(conn)
	joined := msgsOfType(msgs, "joined-room")
	require.Len(t, joined, 1, "expected a joined-room reply, got %v", msgs)
	userID, _ := joined[0]["userId"].(string)
	require.NotEmpty(t, userID)
	return userID
}

func TestCreateRoomThenDuplicate(t *testing.T) {
	eng, _, _ := newTestEngine()
	conn := registry.NewConn(nil)

	eng.HandleMessage(context.Background(), conn, []byte(`{"type":"create-room","roomCode":"AB12"}`))
	msgs := drain(conn)
	require.Len(t, msgs, 1)
	assert.Equal(t, "room-created", msgs[0]["type"])
	assert.Equal(t, "AB12", msgs[0]["roomCode"])

	eng.HandleMessage(context.Background(), conn, []byte(`{"type":"create-room","roomCode":"AB12"}`))
	msgs = drain(conn)
	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0]["type"])
	assert.Equal(t, "Room exists", msgs[0]["message"])
}

func TestCreateRoomNormalizesCode(t *testing.T) {
	eng, st, _ := newTestEngine()
	conn := registry.NewConn(nil)

	eng.HandleMessage(context.Background(), conn, []byte(`{"type":"create-room","roomCode":"ab12"}`))
	drain(conn)

	r, err := st.GetRoom(context.Background(), "AB12")
	require.NoError(t, err)
	assert.Equal(t, "AB12", r.RoomCode)
}

func TestJoinRoomMintsIDAndDefaults(t *testing.T) {
	eng, st, _ := newTestEngine()
	host := registry.NewConn(nil)
	eng.HandleMessage(context.Background(), host, []byte(`{"type":"create-room","roomCode":"AB12"}`))
	drain(host)

	eng.HandleMessage(context.Background(), host,
		[]byte(`{"type":"join-room","roomCode":"AB12","name":"Alice","color":"#FF0000"}`))
	msgs := drain(host)

	joined := msgsOfType(msgs, "joined-room")
	require.Len(t, joined, 1)
	assert.Equal(t, "AB12", joined[0]["roomCode"])
	assert.NotEmpty(t, joined[0]["userId"])

	updates := msgsOfType(msgs, "room-update")
	require.Len(t, updates, 1)
	snapshot := updates[0]["room"].(*models.Room)
	require.Len(t, snapshot.Players, 1)
	assert.Equal(t, "Alice", snapshot.Players[0].Name)
	assert.Equal(t, 40, snapshot.Players[0].Health)
	assert.Equal(t, 0, snapshot.Players[0].Energy)
	assert.Equal(t, 0, snapshot.Players[0].Poison)

	r, err := st.GetRoom(context.Background(), "AB12")
	require.NoError(t, err)
	assert.Len(t, r.Players, 1)
}

func TestJoinRoomRequiresColor(t *testing.T) {
	eng, _, _ := newTestEngine()
	conn := registry.NewConn(nil)
	eng.HandleMessage(context.Background(), conn, []byte(`{"type":"create-room","roomCode":"AB12"}`))
	drain(conn)

	eng.HandleMessage(context.Background(), conn,
		[]byte(`{"type":"join-room","roomCode":"AB12","name":"Alice"}`))
	msgs := drain(conn)
	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0]["type"])
	assert.Equal(t, "Color required", msgs[0]["message"])
}

func TestJoinRoomUnknownRoom(t *testing.T) {
	eng, _, _ := newTestEngine()
	conn := registry.NewConn(nil)

	eng.HandleMessage(context.Background(), conn,
		[]byte(`{"type":"join-room","roomCode":"NOPE","name":"Alice","color":"#FF0000"}`))
	msgs := drain(conn)
	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0]["type"])
	assert.Equal(t, "Room not found", msgs[0]["message"])
}

func TestJoinWithKnownIDNeverDuplicates(t *testing.T) {
	eng, st, _ := newTestEngine()
	conn := registry.NewConn(nil)
	eng.HandleMessage(context.Background(), conn, []byte(`{"type":"create-room","roomCode":"AB12"}`))
	drain(conn)
	userID := joinAs(t, eng, conn, "AB12", "Alice", "#FF0000")

	// Joining again with the same id updates in place, including the color.
	eng.HandleMessage(context.Background(), conn,
		[]byte(fmt.Sprintf(`{"type":"join-room","roomCode":"AB12","name":"Alicia","color":"#00FF00","userId":%q}`, userID)))
	drain(conn)

	r, err := st.GetRoom(context.Background(), "AB12")
	require.NoError(t, err)
	require.Len(t, r.Players, 1)
	assert.Equal(t, "Alicia", r.Players[0].Name)
	assert.Equal(t, "#00FF00", r.Players[0].Color)
}

func TestRejoinReturnsExistingPlayer(t *testing.T) {
	eng, st, _ := newTestEngine()
	conn := registry.NewConn(nil)
	eng.HandleMessage(context.Background(), conn, []byte(`{"type":"create-room","roomCode":"AB12"}`))
	drain(conn)
	userID := joinAs(t, eng, conn, "AB12", "Alice", "#FF0000")

	// Fresh connection, same cached userId.
	conn2 := registry.NewConn(nil)
	eng.HandleMessage(context.Background(), conn2,
		[]byte(fmt.Sprintf(`{"type":"rejoin-room","roomCode":"AB12","userId":%q}`, userID)))
	msgs := drain(conn2)

	rejoined := msgsOfType(msgs, "rejoined-room")
	require.Len(t, rejoined, 1)
	snapshot := rejoined[0]["room"].(*models.Room)
	require.Len(t, snapshot.Players, 1)
	assert.Equal(t, "Alice", snapshot.Players[0].Name)
	assert.Equal(t, "#FF0000", snapshot.Players[0].Color)

	r, err := st.GetRoom(context.Background(), "AB12")
	require.NoError(t, err)
	assert.Len(t, r.Players, 1, "rejoin must never create a player")
}

func TestRejoinUnknownPlayerIsFatal(t *testing.T) {
	eng, _, _ := newTestEngine()
	conn := registry.NewConn(nil)
	eng.HandleMessage(context.Background(), conn, []byte(`{"type":"create-room","roomCode":"AB12"}`))
	drain(conn)

	eng.HandleMessage(context.Background(), conn,
		[]byte(`{"type":"rejoin-room","roomCode":"AB12","userId":"ghost"}`))
	msgs := drain(conn)
	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0]["type"])
	assert.Equal(t, "Player not found", msgs[0]["message"])
}

func TestUpdateStatsBroadcastsAndValidates(t *testing.T) {
	eng, st, _ := newTestEngine()
	conn := registry.NewConn(nil)
	eng.HandleMessage(context.Background(), conn, []byte(`{"type":"create-room","roomCode":"AB12"}`))
	drain(conn)
	userID := joinAs(t, eng, conn, "AB12", "Alice", "#FF0000")
	drain(conn)

	eng.HandleMessage(context.Background(), conn,
		[]byte(fmt.Sprintf(`{"type":"update-stats","roomCode":"AB12","userId":%q,"field":"health","value":35}`, userID)))
	msgs := drain(conn)
	updates := msgsOfType(msgs, "room-update")
	require.Len(t, updates, 1)
	snapshot := updates[0]["room"].(*models.Room)
	assert.Equal(t, 35, snapshot.FindPlayer(userID).Health)

	// Non-whitelisted field: error, no broadcast, no state change.
	eng.HandleMessage(context.Background(), conn,
		[]byte(fmt.Sprintf(`{"type":"update-stats","roomCode":"AB12","userId":%q,"field":"score","value":99}`, userID)))
	msgs = drain(conn)
	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0]["type"])
	assert.Equal(t, "Invalid field update", msgs[0]["message"])

	r, err := st.GetRoom(context.Background(), "AB12")
	require.NoError(t, err)
	assert.Equal(t, 35, r.FindPlayer(userID).Health)
}

func TestUpdateStatsUnknownPlayer(t *testing.T) {
	eng, _, _ := newTestEngine()
	conn := registry.NewConn(nil)
	eng.HandleMessage(context.Background(), conn, []byte(`{"type":"create-room","roomCode":"AB12"}`))
	drain(conn)

	eng.HandleMessage(context.Background(), conn,
		[]byte(`{"type":"update-stats","roomCode":"AB12","userId":"ghost","field":"health","value":1}`))
	msgs := drain(conn)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Player not found", msgs[0]["message"])
}

func TestLeaveRoomPurgesLedger(t *testing.T) {
	eng, st, _ := newTestEngine()
	connA := registry.NewConn(nil)
	connB := registry.NewConn(nil)
	eng.HandleMessage(context.Background(), connA, []byte(`{"type":"create-room","roomCode":"AB12"}`))
	drain(connA)
	alice := joinAs(t, eng, connA, "AB12", "Alice", "#FF0000")
	bob := joinAs(t, eng, connB, "AB12", "Bob", "#0000FF")

	eng.HandleMessage(context.Background(), connA,
		[]byte(fmt.Sprintf(`{"type":"deal-damage","roomCode":"AB12","sourceId":%q,"targetId":%q,"amount":5}`, alice, bob)))
	drain(connA)
	drain(connB)

	eng.HandleMessage(context.Background(), connA,
		[]byte(fmt.Sprintf(`{"type":"leave-room","roomCode":"AB12","userId":%q}`, alice)))

	msgsA := drain(connA)
	left := msgsOfType(msgsA, "left-room")
	require.Len(t, left, 1)
	assert.Equal(t, alice, left[0]["userId"])

	// Remaining member sees the post-leave snapshot with no trace of Alice.
	msgsB := drain(connB)
	updates := msgsOfType(msgsB, "room-update")
	require.NotEmpty(t, updates)
	snapshot := updates[len(updates)-1]["room"].(*models.Room)
	assert.Nil(t, snapshot.FindPlayer(alice))
	for _, p := range snapshot.Players {
		_, ok := p.DamageFrom[alice]
		assert.False(t, ok)
	}

	r, err := st.GetRoom(context.Background(), "AB12")
	require.NoError(t, err)
	assert.Nil(t, r.FindPlayer(alice))
}

func TestDealDamageAccumulates(t *testing.T) {
	eng, st, _ := newTestEngine()
	connA := registry.NewConn(nil)
	connB := registry.NewConn(nil)
	eng.HandleMessage(context.Background(), connA, []byte(`{"type":"create-room","roomCode":"AB12"}`))
	drain(connA)
	alice := joinAs(t, eng, connA, "AB12", "Alice", "#FF0000")
	bob := joinAs(t, eng, connB, "AB12", "Bob", "#0000FF")

	dmg := fmt.Sprintf(`{"type":"deal-damage","roomCode":"AB12","sourceId":%q,"targetId":%q,"amount":3}`, alice, bob)
	eng.HandleMessage(context.Background(), connA, []byte(dmg))
	eng.HandleMessage(context.Background(), connA, []byte(dmg))

	r, err := st.GetRoom(context.Background(), "AB12")
	require.NoError(t, err)
	assert.Equal(t, 6, r.FindPlayer(bob).DamageFrom[alice])
}

func TestDealDamageMissingTargetIsSilent(t *testing.T) {
	eng, _, _ := newTestEngine()
	conn := registry.NewConn(nil)
	eng.HandleMessage(context.Background(), conn, []byte(`{"type":"create-room","roomCode":"AB12"}`))
	drain(conn)
	alice := joinAs(t, eng, conn, "AB12", "Alice", "#FF0000")
	drain(conn)

	eng.HandleMessage(context.Background(), conn,
		[]byte(fmt.Sprintf(`{"type":"deal-damage","roomCode":"AB12","sourceId":%q,"targetId":"ghost","amount":3}`, alice)))
	assert.Empty(t, drain(conn), "missing target must be ignored without a reply")

	eng.HandleMessage(context.Background(), conn,
		[]byte(`{"type":"deal-damage","roomCode":"NOPE","sourceId":"a","targetId":"b","amount":3}`))
	assert.Empty(t, drain(conn), "missing room must be ignored without a reply")
}

func TestBroadcastReachesEveryMemberExactlyOnce(t *testing.T) {
	eng, _, _ := newTestEngine()
	connA := registry.NewConn(nil)
	connB := registry.NewConn(nil)
	connC := registry.NewConn(nil)
	eng.HandleMessage(context.Background(), connA, []byte(`{"type":"create-room","roomCode":"AB12"}`))
	drain(connA)
	alice := joinAs(t, eng, connA, "AB12", "Alice", "#FF0000")
	joinAs(t, eng, connB, "AB12", "Bob", "#0000FF")
	joinAs(t, eng, connC, "AB12", "Cara", "#00FF00")
	drain(connA)
	drain(connB)
	drain(connC)

	eng.HandleMessage(context.Background(), connA,
		[]byte(fmt.Sprintf(`{"type":"update-stats","roomCode":"AB12","userId":%q,"field":"poison","value":2}`, alice)))

	for _, conn := range []*registry.Conn{connA, connB, connC} {
		updates := msgsOfType(drain(conn), "room-update")
		require.Len(t, updates, 1)
		snapshot := updates[0]["room"].(*models.Room)
		assert.Equal(t, 2, snapshot.FindPlayer(alice).Poison)
	}
}

func TestMalformedJSONKeepsConnectionAlive(t *testing.T) {
	eng, _, _ := newTestEngine()
	conn := registry.NewConn(nil)

	eng.HandleMessage(context.Background(), conn, []byte(`{nope`))
	msgs := drain(conn)
	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0]["type"])
	assert.Equal(t, "Invalid JSON", msgs[0]["message"])

	// Connection keeps working afterwards.
	eng.HandleMessage(context.Background(), conn, []byte(`{"type":"create-room","roomCode":"AB12"}`))
	msgs = drain(conn)
	require.Len(t, msgs, 1)
	assert.Equal(t, "room-created", msgs[0]["type"])
}

func TestUnknownMessageType(t *testing.T) {
	eng, _, _ := newTestEngine()
	conn := registry.NewConn(nil)

	eng.HandleMessage(context.Background(), conn, []byte(`{"type":"self-destruct"}`))
	msgs := drain(conn)
	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0]["type"])
}

// TestConcurrentUpdatesSameRoom drives two simultaneous update-stats at
// different fields of the same player and requires both writes to survive:
// the per-room lock must serialize the read-modify-write cycles.
func TestConcurrentUpdatesSameRoom(t *testing.T) {
	eng, st, _ := newTestEngine()
	conn := registry.NewConn(nil)
	eng.HandleMessage(context.Background(), conn, []byte(`{"type":"create-room","roomCode":"AB12"}`))
	drain(conn)
	userID := joinAs(t, eng, conn, "AB12", "Alice", "#FF0000")

	for i := 0; i < 50; i++ {
		connA := registry.NewConn(nil)
		connB := registry.NewConn(nil)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			eng.HandleMessage(context.Background(), connA,
				[]byte(fmt.Sprintf(`{"type":"update-stats","roomCode":"AB12","userId":%q,"field":"health","value":%d}`, userID, 30+i)))
		}()
		go func() {
			defer wg.Done()
			eng.HandleMessage(context.Background(), connB,
				[]byte(fmt.Sprintf(`{"type":"update-stats","roomCode":"AB12","userId":%q,"field":"energy","value":%d}`, userID, i)))
		}()
		wg.Wait()

		r, err := st.GetRoom(context.Background(), "AB12")
		require.NoError(t, err)
		p := r.FindPlayer(userID)
		require.NotNil(t, p)
		assert.Equal(t, 30+i, p.Health, "health write lost on iteration %d", i)
		assert.Equal(t, i, p.Energy, "energy write lost on iteration %d", i)
	}
}

func TestUniqueUserIDsAfterJoinStorm(t *testing.T) {
	eng, st, _ := newTestEngine()
	host := registry.NewConn(nil)
	eng.HandleMessage(context.Background(), host, []byte(`{"type":"create-room","roomCode":"AB12"}`))
	drain(host)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			conn := registry.NewConn(nil)
			eng.HandleMessage(context.Background(), conn,
				[]byte(fmt.Sprintf(`{"type":"join-room","roomCode":"AB12","name":"P%d","color":"#111111"}`, n)))
		}(i)
	}
	wg.Wait()

	r, err := st.GetRoom(context.Background(), "AB12")
	require.NoError(t, err)
	require.Len(t, r.Players, 8)

	seen := make(map[string]bool)
	for _, p := range r.Players {
		assert.False(t, seen[p.UserID], "duplicate userId %s", p.UserID)
		seen[p.UserID] = true
	}
}

// internal/engine/messages.go
package engine

// Inbound protocol messages. Each frame is one JSON object whose "type"
// field selects the variant; the envelope is decoded first and the body is
// re-decoded into the matching struct, so unknown fields on the wire are
// ignored rather than written anywhere.

type envelope struct {
	Type string `json:"type"`
}

type createRoomMsg struct {
	RoomCode string `json:"roomCode"`
}

type joinRoomMsg struct {
	RoomCode string `json:"roomCode"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	UserID   string `json:"userId"`
}

type rejoinRoomMsg struct {
	RoomCode string `json:"roomCode"`
	UserID   string `json:"userId"`
}

type leaveRoomMsg struct {
	RoomCode string `json:"roomCode"`
	UserID   string `json:"userId"`
}

type updateStatsMsg struct {
	RoomCode string      `json:"roomCode"`
	UserID   string      `json:"userId"`
	Field    string      `json:"field"`
	Value    interface{} `json:"value"`
}

type dealDamageMsg struct {
	RoomCode string `json:"roomCode"`
	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId"`
	Amount   int    `json:"amount"`
}

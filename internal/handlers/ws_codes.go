// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the tracker socket handler. These
// give clients a more specific reason for closure than the standard codes.
const (
	BadSubprotocolError   = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError = 3001 // Provided auth token was invalid or expired.
	ReplacedConnection    = 3002 // A newer connection for the same user superseded this one.
)

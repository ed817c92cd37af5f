package domain

import "time"

// CursorTTL is how long a remote cursor stays visible after its last update.
const CursorTTL = 3 * time.Second

type CursorPosition struct {
	UserID    UserID    `json:"userId"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Timestamp time.Time `json:"timestamp"`
}

package models

import (
	"fmt"
	"unicode/utf16"
)

// PresenceInfo is the live, ephemeral record a user publishes on a canvas
// channel. The transport replaces the whole record on every publish.
type PresenceInfo struct {
	UserName  string `json:"userName"`
	Color     string `json:"color"`
	Cursor    Point  `json:"cursor"`
	IsDrawing bool   `json:"isDrawing"`
}

// Participant is a connected user as seen by a canvas session, together
// with the strokes they authored that are visible in that session.
type Participant struct {
	UserID string `json:"userId"`
	PresenceInfo
	Strokes []Stroke `json:"strokes"`
}

// ColorFor returns the deterministic colour assigned to a user id. The hash
// keeps a wide accumulator and wraps only the shifted term to 32 bits, so
// browser clients computing the same hash agree on the hue. Negative hues
// are folded into 0-359.
func ColorFor(userID string) string {
	var hash int64
	for _, r := range userID {
		for _, unit := range utf16.Encode([]rune{r}) {
			shifted := int64(int32(hash) << 5)
			hash = int64(unit) + (shifted - hash)
		}
	}
	hue := hash % 360
	if hue < 0 {
		hue += 360
	}
	return fmt.Sprintf("hsl(%d,90%%,60%%)", hue)
}

// DisplayName falls back to a short form of the user id when no name was set.
func DisplayName(userID, name string) string {
	if name != "" {
		return name
	}
	if len(userID) > 6 {
		return userID[:6]
	}
	if userID == "" {
		return "Anonymous"
	}
	return userID
}

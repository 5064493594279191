package models

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"
)

const (
	RoomCodeLength = 6
	codeChars      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
)

var (
	ErrReservationNotFound = errors.New("room not found")
	ErrRoomReserved        = errors.New("room name already reserved")
)

// RoomMetadata stores a reserved room
type RoomMetadata struct {
	Name      string    `json:"name"`
	Code      string    `json:"code"`      // Short, shareable code; joining with it as room name enters the room
	CreatorID string    `json:"creatorId"` // User ID from JWT who reserved the room
	CreatedAt time.Time `json:"createdAt"`
}

// CreateRoomRequest is the request body for reserving a room
type CreateRoomRequest struct {
	Name string `json:"name,omitempty" binding:"omitempty,max=64"`
}

// CreateRoomResponse is the response for reserving a room
type CreateRoomResponse struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// Member is a live room member as seen by the relay
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RoomInfo combines the reservation (if any) with the live roster
type RoomInfo struct {
	Name     string        `json:"name"`
	Reserved *RoomMetadata `json:"reserved,omitempty"`
	Members  []Member      `json:"members"`
}

// NewRoomCode generates a random shareable room code
func NewRoomCode() (string, error) {
	code := make([]byte, RoomCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		if err != nil {
			return "", err
		}
		code[i] = codeChars[n.Int64()]
	}
	return string(code), nil
}

// IsRoomCode reports whether s has the shape of a generated room code.
func IsRoomCode(s string) bool {
	if len(s) != RoomCodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(codeChars, s[i]) < 0 {
			return false
		}
	}
	return true
}

package domain

import "time"

// Registration maps a room code to the address a viewer should dial.
type Registration struct {
	RoomCode  RoomCode  `json:"roomCode"`
	IP        string    `json:"ip"`
	Port      string    `json:"port"`
	UpdatedAt time.Time `json:"-"`
}

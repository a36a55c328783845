package model

import "time"

// PhoneNumber is a number owned by a user. Number is always E.164.
type PhoneNumber struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Number    string    `json:"number"`
	PathwayID *string   `json:"pathwayId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

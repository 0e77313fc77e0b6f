package models

import "time"

// RequestStatus enumerates request lifecycle states.
type RequestStatus string

const (
	RequestStatusOpen      RequestStatus = "open"
	RequestStatusFulfilled RequestStatus = "fulfilled"
)

// Request is an open call for a tutor posted by a student or parent.
type Request struct {
	ID          int64         `db:"id" json:"id"`
	RequesterID string        `db:"requester_id" json:"requester_id"`
	Text        string        `db:"text" json:"text"`
	City        *string       `db:"city" json:"city,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	Status      RequestStatus `db:"status" json:"status"`
}

// Fulfilled reports whether the request left the board.
func (r Request) Fulfilled() bool {
	return r.Status == RequestStatusFulfilled
}

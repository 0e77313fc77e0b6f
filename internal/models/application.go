package models

import "time"

// ApplicationStatus enumerates application review states.
type ApplicationStatus string

const (
	ApplicationStatusPending  ApplicationStatus = "pending"
	ApplicationStatusAccepted ApplicationStatus = "accepted"
	ApplicationStatusRejected ApplicationStatus = "rejected"
)

// Application is a teacher's offer to serve a request.
type Application struct {
	ID          int64             `db:"id" json:"id"`
	RequestID   int64             `db:"request_id" json:"request_id"`
	TeacherID   string            `db:"teacher_id" json:"teacher_id"`
	MonthlyRate float64           `db:"monthly_rate" json:"monthly_rate"`
	Status      ApplicationStatus `db:"status" json:"status"`
	DateApplied time.Time         `db:"date_applied" json:"date_applied"`
}

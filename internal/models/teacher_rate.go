package models

import "time"

// TeacherRate is a teacher's advertised monthly rate for a subject and level.
type TeacherRate struct {
	ID          int64     `db:"id" json:"id"`
	TeacherID   string    `db:"teacher_id" json:"teacher_id"`
	Subject     string    `db:"subject" json:"subject"`
	Level       string    `db:"level" json:"level"`
	MonthlyRate float64   `db:"monthly_rate" json:"monthly_rate"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

package models

import "time"

// EngagementSource tags which relation table an engagement came from.
type EngagementSource string

const (
	SourceDirect          EngagementSource = "direct"
	SourceParentLinked    EngagementSource = "parent_linked"
	SourceAcceptedRequest EngagementSource = "accepted_request"
)

// RequestLevel marks engagements that originate from an accepted request.
const RequestLevel = "request"

// TeacherStudent is a direct registration row in teacher_students.
type TeacherStudent struct {
	ID         int64     `db:"id" json:"id"`
	TeacherID  string    `db:"teacher_id" json:"teacher_id"`
	StudentID  string    `db:"student_id" json:"student_id"`
	Subject    string    `db:"subject" json:"subject"`
	Level      string    `db:"level" json:"level"`
	DateAdded  time.Time `db:"date_added" json:"date_added"`
	ExpiryDate time.Time `db:"expiry_date" json:"expiry_date"`
}

// DirectEngagementRow is a teacher_students row joined with the student's roster entry.
type DirectEngagementRow struct {
	TeacherStudent
	StudentName  *string `db:"student_name"`
	StudentEmail *string `db:"student_email"`
	StudentPhone *string `db:"student_phone"`
	StudentImage *string `db:"student_image"`
}

// ParentChildTeacher is a parent-linked registration row.
type ParentChildTeacher struct {
	ID         int64     `db:"id" json:"id"`
	TeacherID  string    `db:"teacher_id" json:"teacher_id"`
	ParentID   string    `db:"parent_id" json:"parent_id"`
	ChildID    string    `db:"child_id" json:"child_id"`
	DateAdded  time.Time `db:"date_added" json:"date_added"`
	ExpiryDate time.Time `db:"expiry_date" json:"expiry_date"`
}

// AcceptedRequestRow is a parent_request_teacher_child row with status accepted.
type AcceptedRequestRow struct {
	ID         int64     `db:"id"`
	TeacherID  string    `db:"teacher_id"`
	ParentID   string    `db:"parent_id"`
	ChildID    string    `db:"child_id"`
	RequestID  *int64    `db:"request_id"`
	DateAdded  time.Time `db:"date_added"`
	ExpiryDate time.Time `db:"expiry_date"`
}

// Engagement is the normalized projection shared by all sources.
type Engagement struct {
	Source     EngagementSource `json:"source"`
	ID         int64            `json:"id"`
	Subject    string           `json:"subject"`
	Level      string           `json:"level"`
	Student    Profile          `json:"student"`
	Parent     *Profile         `json:"parent,omitempty"`
	DateAdded  time.Time        `json:"date_added"`
	ExpiryDate time.Time        `json:"expiry_date"`
	Active     bool             `json:"active"`
}

// ParentContact groups the children a parent has linked to the teacher.
type ParentContact struct {
	Parent   Profile   `json:"parent"`
	Children []Profile `json:"children"`
}

// EngagementView is the aggregated "my students / my parents / request students" view.
// All keeps the undeduplicated, date-ordered projection.
type EngagementView struct {
	TeacherID       string          `json:"teacher_id"`
	Students        []Engagement    `json:"students"`
	Parents         []ParentContact `json:"parents"`
	RequestStudents []Engagement    `json:"request_students"`
	All             []Engagement    `json:"all"`
}

// RegistrationDecision is the outcome of a registration gate check.
type RegistrationDecision struct {
	Allowed     bool       `json:"allowed"`
	Reason      string     `json:"reason,omitempty"`
	ActiveUntil *time.Time `json:"active_until,omitempty"`
}

package models

import "time"

// Exam maps one Canvas assignment to one M-Pathways exam form. Created or
// updated from the fixtures file at startup, immutable during a run.
type Exam struct {
	ID           uint   `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	SACode       string `json:"sa_code" gorm:"column:sa_code;type:varchar(5);not null;uniqueIndex"`
	Name         string `json:"name" gorm:"column:name;type:varchar(255);not null;uniqueIndex"`
	ReportID     uint   `json:"report_id" gorm:"column:report_id;not null"`
	CourseID     int    `json:"course_id" gorm:"column:course_id;not null;uniqueIndex"`
	AssignmentID int    `json:"assignment_id" gorm:"column:assignment_id;not null;uniqueIndex"`
	// Earliest graded_since value to use when the exam has no submissions yet.
	DefaultTimeFilter time.Time `json:"default_time_filter" gorm:"column:default_time_filter;not null"`

	// Relations
	Report      *Report      `json:"report,omitempty" gorm:"foreignKey:ReportID"`
	Submissions []Submission `json:"submissions,omitempty" gorm:"foreignKey:ExamID;constraint:OnDelete:CASCADE"`
}

func (Exam) TableName() string {
	return "exams"
}

package models

import (
	"strconv"
	"time"
)

// Submission is one graded student attempt pulled from Canvas. transmitted
// only ever moves from false to true, and only after M-Pathways confirmed
// the student's score.
type Submission struct {
	ID              uint   `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	SubmissionID    int64  `json:"submission_id" gorm:"column:submission_id;not null;uniqueIndex"`
	ExamID          uint   `json:"exam_id" gorm:"column:exam_id;not null;index"`
	StudentUniqname string `json:"student_uniqname" gorm:"column:student_uniqname;type:varchar(255);not null"`
	// Null when the grade was entered manually without a submission event.
	SubmittedTimestamp   *time.Time `json:"submitted_timestamp,omitempty" gorm:"column:submitted_timestamp"`
	GradedTimestamp      time.Time  `json:"graded_timestamp" gorm:"column:graded_timestamp;not null;index"`
	Score                float64    `json:"score" gorm:"column:score;not null"`
	Transmitted          bool       `json:"transmitted" gorm:"column:transmitted;not null;default:false"`
	TransmittedTimestamp *time.Time `json:"transmitted_timestamp,omitempty" gorm:"column:transmitted_timestamp"`

	// Relations
	Exam *Exam `json:"exam,omitempty" gorm:"foreignKey:ExamID"`
}

func (Submission) TableName() string {
	return "submissions"
}

// StudentScore is one entry of the putPlcExamScore payload sent to M-Pathways.
type StudentScore struct {
	ID          string `json:"ID"`
	Form        string `json:"Form"`
	GradePoints string `json:"GradePoints"`
}

// PrepareScore returns the condensed form of the submission that M-Pathways
// expects. Scores go over the wire as fixed-precision strings.
func (s *Submission) PrepareScore(examCode string) StudentScore {
	return StudentScore{
		ID:          s.StudentUniqname,
		Form:        examCode,
		GradePoints: strconv.FormatFloat(s.Score, 'f', 2, 64),
	}
}

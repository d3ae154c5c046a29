package models

import "time"

// SyncRun is the audit record for one execution of the score sync job.
type SyncRun struct {
	ID                 uint64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	RunUUID            string     `json:"run_uuid" gorm:"column:run_uuid;type:varchar(36);not null;uniqueIndex"`
	TriggerSource      string     `json:"trigger_source" gorm:"column:trigger_source;type:varchar(64);not null"`
	Status             string     `json:"status" gorm:"column:status;type:varchar(32);not null"`
	ExamsProcessed     int        `json:"exams_processed" gorm:"column:exams_processed;not null;default:0"`
	ExamsWithErrors    int        `json:"exams_with_errors" gorm:"column:exams_with_errors;not null;default:0"`
	SubmissionsFetched int        `json:"submissions_fetched" gorm:"column:submissions_fetched;not null;default:0"`
	SubmissionsCreated int        `json:"submissions_created" gorm:"column:submissions_created;not null;default:0"`
	ScoresSent         int        `json:"scores_sent" gorm:"column:scores_sent;not null;default:0"`
	ScoresFailed       int        `json:"scores_failed" gorm:"column:scores_failed;not null;default:0"`
	ErrorMessage       *string    `json:"error_message,omitempty" gorm:"column:error_message;type:text"`
	StartedAt          time.Time  `json:"started_at" gorm:"column:started_at;autoCreateTime"`
	FinishedAt         *time.Time `json:"finished_at,omitempty" gorm:"column:finished_at"`
	CreatedAt          time.Time  `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (SyncRun) TableName() string { return "sync_runs" }

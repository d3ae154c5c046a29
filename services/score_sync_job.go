package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"placement-exam-sync/config"
	"placement-exam-sync/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SyncLockName is the MySQL advisory lock serializing sync runs.
const SyncLockName = "placement_exam_sync"

var ErrSyncAlreadyRunning = errors.New("score sync already running")

// SyncJobInput controls one execution of the sync job.
type SyncJobInput struct {
	// ExamCodes restricts the run to exams with these sa_code values; empty
	// means every configured exam.
	ExamCodes     []string
	LockName      string
	TriggerSource string
	RecordRun     bool
	// SkipEmail suppresses the per-report summary emails.
	SkipEmail bool
}

// SyncJobSummary aggregates the per-exam results of a run.
type SyncJobSummary struct {
	ExamsProcessed     int              `json:"exams_processed"`
	ExamsWithErrors    int              `json:"exams_with_errors"`
	SubmissionsFetched int              `json:"submissions_fetched"`
	SubmissionsCreated int              `json:"submissions_created"`
	DuplicatesSkipped  int              `json:"duplicates_skipped"`
	IngestFailed       int              `json:"ingest_failed"`
	ScoresSent         int              `json:"scores_sent"`
	ScoresFailed       int              `json:"scores_failed"`
	ExamResults        []ExamSyncResult `json:"exam_results"`
}

// ScoreSyncJobService coordinates a full run: every report, every exam, then
// the summary email per report.
type ScoreSyncJobService struct {
	db   *gorm.DB
	sync *ScoreSyncService
}

// NewScoreSyncJobService constructs a ScoreSyncJobService.
func NewScoreSyncJobService(db *gorm.DB, sync *ScoreSyncService) *ScoreSyncJobService {
	if db == nil {
		db = config.DB
	}
	if sync == nil {
		sync = NewScoreSyncService(db, nil, nil)
	}
	return &ScoreSyncJobService{db: db, sync: sync}
}

// Run processes every configured exam grouped by report. One exam's failure
// is logged and counted; the remaining exams still run.
func (s *ScoreSyncJobService) Run(ctx context.Context, input *SyncJobInput) (*SyncJobSummary, error) {
	if input == nil {
		input = &SyncJobInput{}
	}

	summary := &SyncJobSummary{}

	release, err := s.acquireLock(ctx, input.LockName)
	if err != nil {
		return nil, err
	}
	if release != nil {
		defer func() {
			if relErr := release(); relErr != nil {
				log.Printf("failed to release sync lock: %v", relErr)
			}
		}()
	}

	var run *models.SyncRun
	if input.RecordRun {
		run, err = s.startRun(ctx, input.TriggerSource)
		if err != nil {
			return nil, err
		}
	}

	var finalErr error
	if run != nil {
		defer func() {
			if err := s.finishRun(ctx, run, summary, finalErr); err != nil {
				log.Printf("failed to update sync run %d: %v", run.ID, err)
			}
		}()
	}

	start := time.Now().UTC()
	log.Printf("Starting new run at %s", start.Format(iso8601Format))

	var reports []models.Report
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&reports).Error; err != nil {
		finalErr = err
		return nil, err
	}

	for i := range reports {
		report := &reports[i]

		examQuery := s.db.WithContext(ctx).Where("report_id = ?", report.ID)
		if len(input.ExamCodes) > 0 {
			examQuery = examQuery.Where("sa_code IN ?", input.ExamCodes)
		}
		var exams []models.Exam
		if err := examQuery.Order("id ASC").Find(&exams).Error; err != nil {
			finalErr = err
			return nil, err
		}

		reporter := NewReporter(s.db, report)
		for j := range exams {
			exam := &exams[j]
			log.Printf("Processing exam: %s", exam.Name)

			examStart := time.Now().UTC()
			result, err := s.sync.RunForExam(ctx, exam)
			examEnd := time.Now().UTC()
			if err != nil {
				summary.ExamsWithErrors++
				log.Printf("sync failed for exam %s: %v", exam.Name, err)
				continue
			}

			summary.ExamsProcessed++
			summary.SubmissionsFetched += result.SubmissionsFetched
			summary.SubmissionsCreated += result.SubmissionsCreated
			summary.DuplicatesSkipped += result.DuplicatesSkipped
			summary.IngestFailed += result.IngestFailed
			summary.ScoresSent += result.ScoresSent
			summary.ScoresFailed += result.ScoresFailed
			summary.ExamResults = append(summary.ExamResults, *result)

			reporter.AddExam(*exam, result, examStart, examEnd)
		}

		if input.SkipEmail {
			continue
		}
		if err := reporter.SendSummary(ctx); err != nil {
			log.Printf("failed to send %s report email: %v", report.Name, err)
		}
	}

	end := time.Now().UTC()
	log.Printf("The run ended at %s (duration %s)", end.Format(iso8601Format), end.Sub(start))

	return summary, nil
}

func (s *ScoreSyncJobService) startRun(ctx context.Context, triggerSource string) (*models.SyncRun, error) {
	if strings.TrimSpace(triggerSource) == "" {
		triggerSource = "manual"
	}
	run := &models.SyncRun{
		RunUUID:       uuid.NewString(),
		TriggerSource: triggerSource,
		Status:        "running",
		StartedAt:     time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (s *ScoreSyncJobService) finishRun(ctx context.Context, run *models.SyncRun, summary *SyncJobSummary, runErr error) error {
	status := "success"
	var errMsg *string
	if runErr != nil {
		status = "failed"
		msg := runErr.Error()
		errMsg = &msg
	}
	now := time.Now().UTC()

	updates := map[string]interface{}{
		"status":              status,
		"finished_at":         now,
		"exams_processed":     summary.ExamsProcessed,
		"exams_with_errors":   summary.ExamsWithErrors,
		"submissions_fetched": summary.SubmissionsFetched,
		"submissions_created": summary.SubmissionsCreated,
		"scores_sent":         summary.ScoresSent,
		"scores_failed":       summary.ScoresFailed,
		"error_message":       errMsg,
	}
	return s.db.WithContext(ctx).Model(run).Updates(updates).Error
}

// acquireLock takes a MySQL advisory lock so two runs cannot race on the
// untransmitted-set read and the mark-transmitted write. An empty lock name
// disables locking.
func (s *ScoreSyncJobService) acquireLock(ctx context.Context, lockName string) (func() error, error) {
	if strings.TrimSpace(lockName) == "" {
		return nil, nil
	}

	var ok int
	if err := s.db.WithContext(ctx).Raw("SELECT GET_LOCK(?, 0)", lockName).Scan(&ok).Error; err != nil {
		return nil, err
	}
	if ok != 1 {
		return nil, ErrSyncAlreadyRunning
	}

	return func() error {
		var released int
		return s.db.WithContext(ctx).Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&released).Error
	}, nil
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"placement-exam-sync/config"
	"placement-exam-sync/models"
	"placement-exam-sync/utils"

	"gorm.io/gorm"
)

// sinkBatchSize caps how many unique-student entries go into one
// putPlcExamScore call.
const sinkBatchSize = 100

// ExamSyncResult captures summary data for one exam's sync pass.
type ExamSyncResult struct {
	ExamID             uint      `json:"exam_id"`
	ExamName           string    `json:"exam_name"`
	TimeFilter         time.Time `json:"time_filter"`
	SubmissionsFetched int       `json:"submissions_fetched"`
	SubmissionsCreated int       `json:"submissions_created"`
	DuplicatesSkipped  int       `json:"duplicates_skipped"`
	IngestFailed       int       `json:"ingest_failed"`
	ScoresSent         int       `json:"scores_sent"`
	ScoresFailed       int       `json:"scores_failed"`
}

// ScoreSyncService runs the fetch-ingest-send cycle for a single exam.
type ScoreSyncService struct {
	db     *gorm.DB
	source *CanvasClient
	sink   *MPathwaysClient
}

// NewScoreSyncService constructs a ScoreSyncService. Nil collaborators fall
// back to the globals configured from the environment.
func NewScoreSyncService(db *gorm.DB, source *CanvasClient, sink *MPathwaysClient) *ScoreSyncService {
	if db == nil {
		db = config.DB
	}
	if source == nil {
		source = NewCanvasClientFromEnv(nil)
	}
	if sink == nil {
		sink = NewMPathwaysClientFromEnv(nil)
	}
	return &ScoreSyncService{db: db, source: source, sink: sink}
}

// RunForExam processes one exam: computes the graded_since filter, pulls new
// submissions from Canvas, stores them, then tries to transmit every
// untransmitted submission for the exam. A partial Canvas fetch is not an
// error; store failures are.
func (s *ScoreSyncService) RunForExam(ctx context.Context, exam *models.Exam) (*ExamSyncResult, error) {
	if exam == nil {
		return nil, errors.New("exam is nil")
	}

	result := &ExamSyncResult{ExamID: exam.ID, ExamName: exam.Name}

	timeFilter, err := s.timeFilter(ctx, exam)
	if err != nil {
		return nil, fmt.Errorf("compute time filter for exam %s: %w", exam.Name, err)
	}
	result.TimeFilter = timeFilter
	log.Printf("Using submission time filter %s for exam %s", timeFilter.Format(iso8601Format), exam.Name)

	subDicts := s.source.FetchSubmissions(ctx, exam.CourseID, exam.AssignmentID, timeFilter)
	result.SubmissionsFetched = len(subDicts)

	if err := s.ingestSubmissions(ctx, exam, subDicts, result); err != nil {
		return nil, fmt.Errorf("ingest submissions for exam %s: %w", exam.Name, err)
	}

	if err := s.sendUntransmitted(ctx, exam, result); err != nil {
		return nil, fmt.Errorf("send scores for exam %s: %w", exam.Name, err)
	}

	return result, nil
}

// timeFilter returns the latest graded_timestamp plus one second, or the
// exam's default filter when no submissions exist yet. The one-second bump
// excludes the boundary record Canvas treats graded_since as inclusive of.
func (s *ScoreSyncService) timeFilter(ctx context.Context, exam *models.Exam) (time.Time, error) {
	var last models.Submission
	err := s.db.WithContext(ctx).
		Where("exam_id = ?", exam.ID).
		Order("graded_timestamp DESC").
		First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("No previous submissions found for exam %s; using default filter", exam.Name)
		return exam.DefaultTimeFilter, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return last.GradedTimestamp.Add(time.Second), nil
}

// submissionPayload mirrors the fields of one Canvas submission object the
// sync cares about.
type submissionPayload struct {
	ID          int64    `json:"id"`
	Score       *float64 `json:"score"`
	SubmittedAt *string  `json:"submitted_at"`
	GradedAt    string   `json:"graded_at"`
	User        struct {
		LoginID string `json:"login_id"`
	} `json:"user"`
}

func parseSubmissionPayload(raw json.RawMessage) (*models.Submission, error) {
	var payload submissionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse canvas submission: %w", err)
	}
	if payload.ID == 0 {
		return nil, errors.New("canvas submission missing id")
	}
	if payload.User.LoginID == "" {
		return nil, fmt.Errorf("canvas submission %d missing user login_id", payload.ID)
	}
	if payload.Score == nil {
		return nil, fmt.Errorf("canvas submission %d missing score", payload.ID)
	}

	gradedAt, err := time.Parse(iso8601Format, payload.GradedAt)
	if err != nil {
		return nil, fmt.Errorf("canvas submission %d has invalid graded_at %q: %w", payload.ID, payload.GradedAt, err)
	}

	sub := &models.Submission{
		SubmissionID:    payload.ID,
		StudentUniqname: payload.User.LoginID,
		Score:           *payload.Score,
		GradedTimestamp: gradedAt,
		Transmitted:     false,
	}

	// submitted_at is null when the grade was entered manually.
	if payload.SubmittedAt != nil && *payload.SubmittedAt != "" {
		submittedAt, err := time.Parse(iso8601Format, *payload.SubmittedAt)
		if err != nil {
			return nil, fmt.Errorf("canvas submission %d has invalid submitted_at %q: %w", payload.ID, *payload.SubmittedAt, err)
		}
		sub.SubmittedTimestamp = &submittedAt
	}

	return sub, nil
}

// ingestSubmissions creates Submission records for payloads not seen before.
// Re-ingesting the same payload is a no-op; a malformed payload is counted
// and skipped without aborting the batch.
func (s *ScoreSyncService) ingestSubmissions(ctx context.Context, exam *models.Exam, subDicts []json.RawMessage, result *ExamSyncResult) error {
	for _, raw := range subDicts {
		sub, err := parseSubmissionPayload(raw)
		if err != nil {
			result.IngestFailed++
			log.Printf("skipping malformed submission for exam %s: %v", exam.Name, err)
			continue
		}

		var existing models.Submission
		err = s.db.WithContext(ctx).
			Where("submission_id = ?", sub.SubmissionID).
			First(&existing).Error
		if err == nil {
			result.DuplicatesSkipped++
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		sub.ExamID = exam.ID
		if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
			// Unique constraint on submission_id catches concurrent inserts.
			result.IngestFailed++
			log.Printf("failed to create submission %d for exam %s: %v", sub.SubmissionID, exam.Name, err)
			continue
		}
		result.SubmissionsCreated++
	}

	log.Printf("Inserted %d new submission record(s) for exam %s (%d already stored, %d rejected)",
		result.SubmissionsCreated, exam.Name, result.DuplicatesSkipped, result.IngestFailed)
	return nil
}

// sendUntransmitted gathers every untransmitted submission for the exam,
// including leftovers from prior runs, and sends them to M-Pathways.
// Submissions sharing a student uniqname go out one per call because the
// response correlates by uniqname and cannot tell two entries for the same
// student apart.
func (s *ScoreSyncService) sendUntransmitted(ctx context.Context, exam *models.Exam, result *ExamSyncResult) error {
	var subsToTransmit []models.Submission
	err := s.db.WithContext(ctx).
		Where("exam_id = ? AND transmitted = ?", exam.ID, false).
		Order("id ASC").
		Find(&subsToTransmit).Error
	if err != nil {
		return err
	}
	if len(subsToTransmit) == 0 {
		log.Printf("No untransmitted submissions for exam %s", exam.Name)
		return nil
	}

	redos := 0
	for _, sub := range subsToTransmit {
		if sub.GradedTimestamp.Before(result.TimeFilter) {
			redos++
		}
	}
	if redos > 0 {
		log.Printf("Will try to re-send %d previously un-transmitted submission(s) for exam %s", redos, exam.Name)
	}

	frequency := make(map[string]int)
	for _, sub := range subsToTransmit {
		frequency[sub.StudentUniqname]++
	}

	var regularSubs, dupUniqnameSubs []models.Submission
	for _, sub := range subsToTransmit {
		if frequency[sub.StudentUniqname] > 1 {
			dupUniqnameSubs = append(dupUniqnameSubs, sub)
		} else {
			regularSubs = append(regularSubs, sub)
		}
	}

	for _, batch := range utils.Chunk(regularSubs, sinkBatchSize) {
		s.sendScores(ctx, exam, batch, result)
	}

	if len(dupUniqnameSubs) > 0 {
		log.Printf("Found %d submission(s) with duplicate uniqnames for exam %s; sending individually",
			len(dupUniqnameSubs), exam.Name)
		for _, dupSub := range dupUniqnameSubs {
			s.sendScores(ctx, exam, []models.Submission{dupSub}, result)
		}
	}

	return nil
}

// sendScores transmits one batch and marks only the explicitly confirmed
// submissions. A failed call leaves every submission in the batch untouched
// for the next run.
func (s *ScoreSyncService) sendScores(ctx context.Context, exam *models.Exam, subs []models.Submission, result *ExamSyncResult) {
	scores := make([]models.StudentScore, 0, len(subs))
	for i := range subs {
		scores = append(scores, subs[i].PrepareScore(exam.SACode))
	}

	callResult, err := s.sink.PutScores(ctx, scores)
	if err != nil {
		result.ScoresFailed += len(subs)
		log.Printf("score call failed for exam %s; no records will be updated: %v", exam.Name, err)
		return
	}

	timestamp := time.Now().UTC()
	for i := range subs {
		sub := &subs[i]
		if !callResult.Confirmed(sub.StudentUniqname) {
			result.ScoresFailed++
			continue
		}
		err := s.db.WithContext(ctx).
			Model(&models.Submission{}).
			Where("id = ?", sub.ID).
			Updates(map[string]interface{}{
				"transmitted":           true,
				"transmitted_timestamp": timestamp,
			}).Error
		if err != nil {
			result.ScoresFailed++
			log.Printf("failed to mark submission %d transmitted: %v", sub.SubmissionID, err)
			continue
		}
		result.ScoresSent++
	}

	log.Printf("Transmitted %d of %d score(s) for exam %s in this call", callResult.GoodCount, len(subs), exam.Name)
}

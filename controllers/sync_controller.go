package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"placement-exam-sync/config"
	"placement-exam-sync/models"
	"placement-exam-sync/services"

	"github.com/gin-gonic/gin"
)

type triggerSyncRequest struct {
	ExamCodes []string `json:"exam_codes"`
	SkipEmail bool     `json:"skip_email"`
}

// TriggerSync runs the score sync job synchronously and returns its summary.
// Returns 409 when another run holds the advisory lock.
func TriggerSync(c *gin.Context) {
	var req triggerSyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}

	job := services.NewScoreSyncJobService(nil, nil)
	summary, err := job.Run(c.Request.Context(), &services.SyncJobInput{
		ExamCodes:     req.ExamCodes,
		LockName:      services.SyncLockName,
		TriggerSource: "api",
		RecordRun:     true,
		SkipEmail:     req.SkipEmail,
	})
	if err != nil {
		if errors.Is(err, services.ErrSyncAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "A sync run is already in progress"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

// ListSyncRuns returns recent sync run audit records, newest first.
func ListSyncRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 200 {
		limit = 20
	}

	var runs []models.SyncRun
	if err := config.DB.Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load sync runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

type examListing struct {
	models.Exam
	UntransmittedCount int64 `json:"untransmitted_count"`
}

// ListExams returns the configured exams with their untransmitted backlog.
func ListExams(c *gin.Context) {
	var exams []models.Exam
	if err := config.DB.Order("id ASC").Find(&exams).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load exams"})
		return
	}

	listings := make([]examListing, 0, len(exams))
	for _, exam := range exams {
		var count int64
		err := config.DB.Model(&models.Submission{}).
			Where("exam_id = ? AND transmitted = ?", exam.ID, false).
			Count(&count).Error
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count submissions"})
			return
		}
		listings = append(listings, examListing{Exam: exam, UntransmittedCount: count})
	}

	c.JSON(http.StatusOK, gin.H{"exams": listings})
}

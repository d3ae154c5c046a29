package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log"
	"strings"
	"time"

	"placement-exam-sync/config"
	"placement-exam-sync/models"

	"gorm.io/gorm"
)

var sendMailFunc = config.SendMail

// ExamReportEntry is one exam's slice of a report email.
type ExamReportEntry struct {
	Exam      models.Exam
	Result    *ExamSyncResult
	StartTime time.Time
	EndTime   time.Time
	Successes []models.Submission
	Failures  []models.Submission
}

// Reporter collects per-exam outcomes for one Report and emails the contact
// a run summary. No email goes out when there was no transmission activity.
type Reporter struct {
	db      *gorm.DB
	report  *models.Report
	entries []ExamReportEntry

	totalNew       int
	totalSuccesses int
	totalFailures  int
}

func NewReporter(db *gorm.DB, report *models.Report) *Reporter {
	if db == nil {
		db = config.DB
	}
	return &Reporter{db: db, report: report}
}

// AddExam records the outcome and processing window for one exam.
func (r *Reporter) AddExam(exam models.Exam, result *ExamSyncResult, start, end time.Time) {
	r.entries = append(r.entries, ExamReportEntry{
		Exam:      exam,
		Result:    result,
		StartTime: start,
		EndTime:   end,
	})
}

// prepareEntries fills in the success and failure submission lists. Anything
// left untransmitted after a run counts as a failure, since the sync tries to
// send the entire untransmitted set.
func (r *Reporter) prepareEntries(ctx context.Context) error {
	r.totalNew, r.totalSuccesses, r.totalFailures = 0, 0, 0

	for i := range r.entries {
		entry := &r.entries[i]

		var successes []models.Submission
		err := r.db.WithContext(ctx).
			Where("exam_id = ? AND transmitted = ? AND transmitted_timestamp >= ?",
				entry.Exam.ID, true, entry.StartTime).
			Order("id ASC").
			Find(&successes).Error
		if err != nil {
			return err
		}

		var failures []models.Submission
		err = r.db.WithContext(ctx).
			Where("exam_id = ? AND transmitted = ?", entry.Exam.ID, false).
			Order("id ASC").
			Find(&failures).Error
		if err != nil {
			return err
		}

		entry.Successes = successes
		entry.Failures = failures

		r.totalNew += entry.Result.SubmissionsCreated
		r.totalSuccesses += len(successes)
		r.totalFailures += len(failures)
	}
	return nil
}

// Subject builds the summary email subject line.
func (r *Reporter) Subject() string {
	examNames := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		examNames = append(examNames, entry.Exam.Name)
	}
	return fmt.Sprintf(
		"Placement Exams - %s - New: %d, Success: %d, Failure: %d - %s",
		r.report.Name, r.totalNew, r.totalSuccesses, r.totalFailures,
		strings.Join(examNames, ", "),
	)
}

// SendSummary assembles and sends the report email, skipping it when the run
// had no transmission activity.
func (r *Reporter) SendSummary(ctx context.Context) error {
	if err := r.prepareEntries(ctx); err != nil {
		return err
	}

	if r.totalSuccesses == 0 && r.totalFailures == 0 {
		log.Printf("No email will be sent for the %s report as there was no transmission activity", r.report.Name)
		return nil
	}

	html, err := r.renderHTML()
	if err != nil {
		return err
	}

	log.Printf("Sending %s report email to %s", r.report.Name, r.report.Contact)
	return sendMailFunc([]string{r.report.Contact}, r.Subject(), html)
}

const reportEmailTemplate = `<html>
<body>
<h2>Placement Exams - {{.Report.Name}}</h2>
<p>New: {{.TotalNew}}, Success: {{.TotalSuccesses}}, Failure: {{.TotalFailures}}</p>
{{range .Entries}}
<h3>{{.Exam.Name}} ({{.Exam.SACode}})</h3>
<p>
Processed from {{.StartTime.Format "2006-01-02T15:04:05Z"}} to {{.EndTime.Format "2006-01-02T15:04:05Z"}}<br>
Submission time filter used: {{.Result.TimeFilter.Format "2006-01-02T15:04:05Z"}}<br>
Fetched: {{.Result.SubmissionsFetched}}, New: {{.Result.SubmissionsCreated}},
Sent: {{.Result.ScoresSent}}, Failed: {{.Result.ScoresFailed}}
</p>
{{if .Successes}}
<h4>Transmitted successfully</h4>
<table border="1" cellpadding="4">
<tr><th>Submission ID</th><th>Uniqname</th><th>Score</th><th>Graded At</th></tr>
{{range .Successes}}<tr><td>{{.SubmissionID}}</td><td>{{.StudentUniqname}}</td><td>{{.Score}}</td><td>{{.GradedTimestamp.Format "2006-01-02T15:04:05Z"}}</td></tr>
{{end}}</table>
{{end}}
{{if .Failures}}
<h4>Not transmitted (will retry next run)</h4>
<table border="1" cellpadding="4">
<tr><th>Submission ID</th><th>Uniqname</th><th>Score</th><th>Graded At</th></tr>
{{range .Failures}}<tr><td>{{.SubmissionID}}</td><td>{{.StudentUniqname}}</td><td>{{.Score}}</td><td>{{.GradedTimestamp.Format "2006-01-02T15:04:05Z"}}</td></tr>
{{end}}</table>
{{end}}
{{end}}
</body>
</html>`

func (r *Reporter) renderHTML() (string, error) {
	tmpl, err := template.New("report").Parse(reportEmailTemplate)
	if err != nil {
		return "", err
	}

	data := struct {
		Report         *models.Report
		Entries        []ExamReportEntry
		TotalNew       int
		TotalSuccesses int
		TotalFailures  int
	}{
		Report:         r.report,
		Entries:        r.entries,
		TotalNew:       r.totalNew,
		TotalSuccesses: r.totalSuccesses,
		TotalFailures:  r.totalFailures,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

package services

import (
	"context"
	"database/sql/driver"
	"regexp"
	"strings"
	"testing"
	"time"

	"placement-exam-sync/models"
)

var testReport = &models.Report{
	ID:      1,
	Name:    "Potions Placement Reports",
	Contact: "mcgonagall@hogwarts.edu",
}

func TestReporterSubject(t *testing.T) {
	r := &Reporter{report: testReport}
	r.entries = []ExamReportEntry{
		{Exam: models.Exam{Name: "Potions Placement"}},
		{Exam: models.Exam{Name: "Potions Validation"}},
	}
	r.totalNew = 5
	r.totalSuccesses = 4
	r.totalFailures = 1

	want := "Placement Exams - Potions Placement Reports - New: 5, Success: 4, Failure: 1 - Potions Placement, Potions Validation"
	if got := r.Subject(); got != want {
		t.Errorf("unexpected subject:\n got %q\nwant %q", got, want)
	}
}

func TestSendSummarySkipsWhenNoActivity(t *testing.T) {
	start := time.Date(2020, 7, 7, 13, 0, 0, 0, time.UTC)
	steps := []*scriptStep{
		{
			kind:    kindQuery,
			pattern: regexp.MustCompile("SELECT .* FROM `submissions`"),
			args:    []driver.Value{int64(2), true, start},
			columns: submissionColumns,
			rows:    [][]driver.Value{},
		},
		{
			kind:    kindQuery,
			pattern: regexp.MustCompile("SELECT .* FROM `submissions`"),
			args:    []driver.Value{int64(2), false},
			columns: submissionColumns,
			rows:    [][]driver.Value{},
		},
	}
	db, state, cleanup := newScriptedDB(t, steps)
	defer cleanup()

	original := sendMailFunc
	defer func() { sendMailFunc = original }()
	sendMailFunc = func(to []string, subject, body string) error {
		t.Error("no email should be sent when there was no transmission activity")
		return nil
	}

	r := NewReporter(db, testReport)
	r.AddExam(*testExam, &ExamSyncResult{}, start, start.Add(time.Minute))
	if err := r.SendSummary(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := state.verifyComplete(); err != nil {
		t.Fatal(err)
	}
}

func TestSendSummarySendsReportEmail(t *testing.T) {
	start := time.Date(2020, 7, 7, 13, 0, 0, 0, time.UTC)
	graded := time.Date(2020, 7, 7, 12, 45, 0, 0, time.UTC)
	sent := time.Date(2020, 7, 7, 13, 1, 0, 0, time.UTC)

	steps := []*scriptStep{
		{
			kind:    kindQuery,
			pattern: regexp.MustCompile("SELECT .* FROM `submissions`"),
			args:    []driver.Value{int64(2), true, start},
			columns: submissionColumns,
			rows: [][]driver.Value{
				{int64(1), int64(111), int64(2), "hpotter", nil, graded, 125.0, true, sent},
			},
		},
		{
			kind:    kindQuery,
			pattern: regexp.MustCompile("SELECT .* FROM `submissions`"),
			args:    []driver.Value{int64(2), false},
			columns: submissionColumns,
			rows: [][]driver.Value{
				{int64(2), int64(222), int64(2), "rweasley", nil, graded, 250.0, false, nil},
			},
		},
	}
	db, state, cleanup := newScriptedDB(t, steps)
	defer cleanup()

	var gotTo []string
	var gotSubject, gotBody string
	original := sendMailFunc
	defer func() { sendMailFunc = original }()
	sendMailFunc = func(to []string, subject, body string) error {
		gotTo = to
		gotSubject = subject
		gotBody = body
		return nil
	}

	r := NewReporter(db, testReport)
	result := &ExamSyncResult{SubmissionsCreated: 2, ScoresSent: 1, ScoresFailed: 1}
	r.AddExam(*testExam, result, start, start.Add(time.Minute))
	if err := r.SendSummary(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gotTo) != 1 || gotTo[0] != testReport.Contact {
		t.Errorf("unexpected recipients: %v", gotTo)
	}
	wantSubject := "Placement Exams - Potions Placement Reports - New: 2, Success: 1, Failure: 1 - Potions Validation"
	if gotSubject != wantSubject {
		t.Errorf("unexpected subject:\n got %q\nwant %q", gotSubject, wantSubject)
	}
	for _, fragment := range []string{"hpotter", "rweasley", "Potions Validation", "Not transmitted"} {
		if !strings.Contains(gotBody, fragment) {
			t.Errorf("email body missing %q", fragment)
		}
	}
	if err := state.verifyComplete(); err != nil {
		t.Fatal(err)
	}
}

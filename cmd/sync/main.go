package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"placement-exam-sync/config"
	"placement-exam-sync/services"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logFile, _ := config.InitLogging()
	if logFile != nil {
		defer logFile.Close()
	}

	config.ReloadMailerConfig()
	config.InitDB()

	var (
		fixturesPath string
		examCodesRaw string
		skipEmail    bool
		skipMigrate  bool
	)

	flag.StringVar(&fixturesPath, "fixtures", os.Getenv("FIXTURES_PATH"), "path to the exam fixtures JSON file (optional)")
	flag.StringVar(&examCodesRaw, "exam-codes", "", "comma separated list of exam sa_codes to sync (optional)")
	flag.BoolVar(&skipEmail, "skip-email", false, "do not send report summary emails")
	flag.BoolVar(&skipMigrate, "skip-migrate", false, "do not run schema auto-migration")
	flag.Parse()

	if !skipMigrate {
		if err := config.MigrateDB(); err != nil {
			log.Fatalf("schema migration failed: %v", err)
		}
	}

	if fixturesPath != "" {
		if err := services.LoadFixturesFile(config.DB, fixturesPath); err != nil {
			log.Fatalf("fixture loading failed: %v", err)
		}
	}

	job := services.NewScoreSyncJobService(nil, nil)
	summary, err := job.Run(context.Background(), &services.SyncJobInput{
		ExamCodes:     parseExamCodes(examCodesRaw),
		LockName:      services.SyncLockName,
		TriggerSource: "cron",
		RecordRun:     true,
		SkipEmail:     skipEmail,
	})
	if err != nil {
		log.Fatalf("score sync failed: %v", err)
	}

	fmt.Printf("Exams processed: %d (errors: %d)\n", summary.ExamsProcessed, summary.ExamsWithErrors)
	fmt.Printf("Submissions fetched: %d, created: %d, already stored: %d, rejected: %d\n",
		summary.SubmissionsFetched,
		summary.SubmissionsCreated,
		summary.DuplicatesSkipped,
		summary.IngestFailed,
	)
	fmt.Printf("Scores sent: %d, failed: %d\n", summary.ScoresSent, summary.ScoresFailed)

	if summary.ExamsWithErrors > 0 || summary.ScoresFailed > 0 {
		os.Exit(2)
	}
}

func parseExamCodes(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var codes []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			codes = append(codes, part)
		}
	}
	return codes
}

package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"placement-exam-sync/config"
	"placement-exam-sync/models"

	"gorm.io/gorm"
)

// ExamFixtures is the on-disk shape of the exam configuration file.
type ExamFixtures struct {
	Reports []ReportFixture `json:"reports"`
	Exams   []ExamFixture   `json:"exams"`
}

type ReportFixture struct {
	ID      uint   `json:"id"`
	Name    string `json:"name"`
	Contact string `json:"contact"`
}

type ExamFixture struct {
	SACode            string    `json:"sa_code"`
	Name              string    `json:"name"`
	ReportID          uint      `json:"report_id"`
	CourseID          int       `json:"course_id"`
	AssignmentID      int       `json:"assignment_id"`
	DefaultTimeFilter time.Time `json:"default_time_filter"`
}

// LoadFixturesFile reads the fixtures file and applies it to the database.
func LoadFixturesFile(db *gorm.DB, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fixtures file %s: %w", path, err)
	}

	var fixtures ExamFixtures
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return fmt.Errorf("parse fixtures file %s: %w", path, err)
	}

	return LoadFixtures(db, &fixtures)
}

// LoadFixtures creates or updates Report and Exam records. Reports are keyed
// by id, exams by sa_code, so repeated startups converge on the file's
// contents without duplicating rows.
func LoadFixtures(db *gorm.DB, fixtures *ExamFixtures) error {
	if db == nil {
		db = config.DB
	}

	for _, reportDict := range fixtures.Reports {
		if reportDict.ID == 0 || reportDict.Name == "" || reportDict.Contact == "" {
			return fmt.Errorf("report fixture requires id, name, and contact: %+v", reportDict)
		}

		var existing models.Report
		err := db.Where("id = ?", reportDict.ID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			report := models.Report{ID: reportDict.ID, Name: reportDict.Name, Contact: reportDict.Contact}
			if err := db.Create(&report).Error; err != nil {
				return err
			}
			log.Printf("A new Report record was created: %s", report.Name)
			continue
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{"name": reportDict.Name, "contact": reportDict.Contact}
		if err := db.Model(&models.Report{}).Where("id = ?", reportDict.ID).Updates(updates).Error; err != nil {
			return err
		}
		log.Printf("Report record with id %d was updated", reportDict.ID)
	}

	for _, examDict := range fixtures.Exams {
		if examDict.SACode == "" || examDict.Name == "" {
			return fmt.Errorf("exam fixture requires sa_code and name: %+v", examDict)
		}

		var relReport models.Report
		if err := db.Where("id = ?", examDict.ReportID).First(&relReport).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("Related Report %d was not found; verify exam fixtures reference existing reports", examDict.ReportID)
				return fmt.Errorf("exam fixture %s references missing report %d", examDict.SACode, examDict.ReportID)
			}
			return err
		}

		var existing models.Exam
		err := db.Where("sa_code = ?", examDict.SACode).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			exam := models.Exam{
				SACode:            examDict.SACode,
				Name:              examDict.Name,
				ReportID:          relReport.ID,
				CourseID:          examDict.CourseID,
				AssignmentID:      examDict.AssignmentID,
				DefaultTimeFilter: examDict.DefaultTimeFilter,
			}
			if err := db.Create(&exam).Error; err != nil {
				return err
			}
			log.Printf("A new Exam record was created: %s", exam.Name)
			continue
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{
			"name":                examDict.Name,
			"report_id":           relReport.ID,
			"course_id":           examDict.CourseID,
			"assignment_id":       examDict.AssignmentID,
			"default_time_filter": examDict.DefaultTimeFilter,
		}
		if err := db.Model(&models.Exam{}).Where("sa_code = ?", examDict.SACode).Updates(updates).Error; err != nil {
			return err
		}
		log.Printf("Exam record with sa_code %s was updated", examDict.SACode)
	}

	return nil
}

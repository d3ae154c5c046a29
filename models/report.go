package models

// Report groups exams that share a contact for run summary emails.
type Report struct {
	ID      uint   `json:"id" gorm:"column:id;primaryKey"`
	Name    string `json:"name" gorm:"column:name;type:varchar(255);not null;uniqueIndex"`
	Contact string `json:"contact" gorm:"column:contact;type:varchar(255);not null"`

	// Relations
	Exams []Exam `json:"exams,omitempty" gorm:"foreignKey:ReportID"`
}

func (Report) TableName() string {
	return "reports"
}

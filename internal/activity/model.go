package activity

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("activity not found")
	ErrTitleRequired   = errors.New("title is required")
	ErrDueDateRequired = errors.New("due date is required")
)

type Category string

const (
	CategoryWork     Category = "WORK"
	CategoryPersonal Category = "PERSONAL"
	CategoryHealth   Category = "HEALTH"
	CategoryStudy    Category = "STUDY"
	CategoryOther    Category = "OTHER"
)

var categories = []Category{CategoryWork, CategoryPersonal, CategoryHealth, CategoryStudy, CategoryOther}

// ParseCategory accepts any letter case. Empty input maps to PERSONAL.
func ParseCategory(s string) (Category, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return CategoryPersonal, nil
	}
	for _, c := range categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// ParsePriority accepts any letter case. Empty input maps to MEDIUM.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToUpper(strings.TrimSpace(s))); p {
	case "":
		return PriorityMedium, nil
	case PriorityHigh, PriorityMedium, PriorityLow:
		return p, nil
	default:
		return "", fmt.Errorf("unknown priority %q", s)
	}
}

// Activity is a user task. ReminderDaysBefore nil means no reminder.
type Activity struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Title              string    `gorm:"not null" json:"title"`
	Description        string    `gorm:"type:text" json:"description"`
	DueDate            time.Time `gorm:"index;not null" json:"due_date"`
	ReminderDaysBefore *int      `json:"reminder_days_before,omitempty"`
	Category           Category  `gorm:"size:16;not null" json:"category"`
	Priority           Priority  `gorm:"size:16;not null" json:"priority"`
	IsCompleted        bool      `gorm:"index;not null;default:false" json:"is_completed"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Activity) TableName() string { return "activities" }

// ReminderTitle is the notification title shown for a.
func (a Activity) ReminderTitle() string { return "Reminder: " + a.Title }

// ReminderMessage is the notification body shown for a.
func (a Activity) ReminderMessage() string {
	if strings.TrimSpace(a.Description) == "" {
		return "You have a pending activity"
	}
	return a.Description
}

// Input carries the user-editable fields of an activity.
type Input struct {
	Title              string
	Description        string
	DueDate            time.Time
	ReminderDaysBefore *int
	Category           string
	Priority           string
}

func (in Input) validate() (Activity, error) {
	var a Activity
	a.Title = strings.TrimSpace(in.Title)
	if a.Title == "" {
		return a, ErrTitleRequired
	}
	if in.DueDate.IsZero() {
		return a, ErrDueDateRequired
	}
	if in.ReminderDaysBefore != nil && *in.ReminderDaysBefore < 0 {
		return a, fmt.Errorf("reminder_days_before %d: must not be negative", *in.ReminderDaysBefore)
	}
	var err error
	if a.Category, err = ParseCategory(in.Category); err != nil {
		return a, err
	}
	if a.Priority, err = ParsePriority(in.Priority); err != nil {
		return a, err
	}
	a.Description = strings.TrimSpace(in.Description)
	a.DueDate = in.DueDate.UTC()
	if in.ReminderDaysBefore != nil {
		d := *in.ReminderDaysBefore
		a.ReminderDaysBefore = &d
	}
	return a, nil
}

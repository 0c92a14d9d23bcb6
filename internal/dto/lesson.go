package dto

import "time"

// BookLessonRequest books a lesson with a teacher.
type BookLessonRequest struct {
	TeacherID       string    `json:"teacherId" validate:"required"`
	StudentEmail    string    `json:"studentEmail" validate:"required,email"`
	DateTime        time.Time `json:"dateTime" validate:"required"`
	DurationMinutes int       `json:"durationMinutes" validate:"required,min=1"`
	Subject         string    `json:"subject" validate:"required,max=120"`
}

// CompleteLessonRequest records a lesson that was held without using the clock.
type CompleteLessonRequest struct {
	WorkedMinutes int `json:"workedMinutes" validate:"required,min=1,max=1440"`
}

// DeleteLessonRequest carries the mandatory reason for an administrative removal.
type DeleteLessonRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// LessonListQuery captures list filters from the query string.
type LessonListQuery struct {
	TeacherID string   `form:"teacherId"`
	Status    []string `form:"status"`
	From      string   `form:"from"`
	To        string   `form:"to"`
	Page      int      `form:"page"`
	PageSize  int      `form:"pageSize"`
	SortOrder string   `form:"sortOrder"`
}

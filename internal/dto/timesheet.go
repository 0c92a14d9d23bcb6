package dto

// TimesheetQuery selects the teacher and date range of a timesheet.
type TimesheetQuery struct {
	TeacherID string `form:"teacherId"`
	From      string `form:"from" validate:"required,datetime=2006-01-02"`
	To        string `form:"to" validate:"required,datetime=2006-01-02"`
	Format    string `form:"format" validate:"omitempty,oneof=csv pdf"`
}

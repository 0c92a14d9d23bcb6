package dto

// TimeConstraintRequest creates or replaces a weekly unavailability window.
type TimeConstraintRequest struct {
	DayOfWeek *int    `json:"dayOfWeek" validate:"required,min=0,max=6"`
	StartTime string  `json:"startTime" validate:"required,hhmm"`
	EndTime   string  `json:"endTime" validate:"required,hhmm"`
	Note      *string `json:"note" validate:"omitempty,max=255"`
}

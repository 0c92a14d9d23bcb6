package dto

import "time"

// AvailabilityRequest asks for bookable start times of a teacher on one date.
type AvailabilityRequest struct {
	TeacherID   string `json:"teacherId" form:"-" validate:"required"`
	Date        string `json:"date" form:"date" validate:"required,datetime=2006-01-02"`
	Duration    int    `json:"duration" form:"duration" validate:"required,min=1,max=480"`
	Granularity int    `json:"granularity" form:"granularity" validate:"omitempty,min=5,max=240"`
	DayStart    string `json:"dayStart" form:"dayStart" validate:"omitempty,hhmm"`
	DayEnd      string `json:"dayEnd" form:"dayEnd" validate:"omitempty,hhmm"`
}

// AvailabilityResponse lists the bookable start times in ascending order.
type AvailabilityResponse struct {
	TeacherID   string      `json:"teacherId"`
	Date        string      `json:"date"`
	Duration    int         `json:"duration"`
	Granularity int         `json:"granularity"`
	DayStart    string      `json:"dayStart"`
	DayEnd      string      `json:"dayEnd"`
	Timezone    string      `json:"timezone"`
	Slots       []time.Time `json:"slots"`
}

package models

import "time"

// Attendance is one row of the attendance table. Date is always set by
// the store at insert time.
type Attendance struct {
	ID        int       `json:"id"`
	StudentID int       `json:"student_id"`
	CourseID  int       `json:"course_id"`
	Date      time.Time `json:"date"`
	Status    string    `json:"status"`
}

// AttendanceForm is the parsed record-attendance request. Ids must fit
// the INT columns they are stored in.
type AttendanceForm struct {
	StudentID int    `json:"studentId" validate:"gt=0,lte=2147483647"`
	CourseID  int    `json:"courseId" validate:"gt=0,lte=2147483647"`
	Status    string `json:"status" validate:"required,max=32"`
}

// AttendanceFilter narrows a listing. Zero values mean "any", except an
// empty Date which means the store's current date.
type AttendanceFilter struct {
	Date      string `validate:"omitempty,datetime=2006-01-02"`
	StudentID int    `validate:"gte=0,lte=2147483647"`
	CourseID  int    `validate:"gte=0,lte=2147483647"`
}

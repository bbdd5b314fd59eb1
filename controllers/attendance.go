package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"attendance-recorder/models"
	"attendance-recorder/repository"
	"attendance-recorder/utils"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type AttendanceController struct {
	// RedirectPath is where a successful submission is sent.
	RedirectPath string
	Timeout      time.Duration
}

var formFieldNames = map[string]string{
	"StudentID": "studentId",
	"CourseID":  "courseId",
	"Status":    "status",
}

func (ac AttendanceController) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if ac.Timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), ac.Timeout)
}

// RecordAttendance handles POST /attendance. On success the caller is
// redirected to the listing view; every failure gets an error status.
func (ac AttendanceController) RecordAttendance(store repository.AttendanceStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form, err := parseAttendanceForm(nil, r)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, models.Error{Message: err.Error()})
			return
		}

		ctx, cancel := ac.requestContext(r)
		defer cancel()

		record, err := store.Record(ctx, form.StudentID, form.CourseID, form.Status)
		if err != nil {
			respondStoreError(w, r, err, form)
			return
		}

		utils.Logger(r.Context()).WithFields(logrus.Fields{
			"attendance_id": record.ID,
			"student_id":    record.StudentID,
			"course_id":     record.CourseID,
			"status":        record.Status,
		}).Info("attendance recorded")

		http.Redirect(w, r, ac.RedirectPath, http.StatusSeeOther)
	}
}

// UpdateAttendance handles PUT /attendance/{studentId}/{courseId} and
// corrects the status recorded today.
func (ac AttendanceController) UpdateAttendance(store repository.AttendanceStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		form, err := parseAttendanceForm(map[string][]string{
			"studentId": {vars["studentId"]},
			"courseId":  {vars["courseId"]},
		}, r)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, models.Error{Message: err.Error()})
			return
		}

		ctx, cancel := ac.requestContext(r)
		defer cancel()

		record, err := store.UpdateStatus(ctx, form.StudentID, form.CourseID, form.Status)
		if err != nil {
			respondStoreError(w, r, err, form)
			return
		}

		utils.Logger(r.Context()).WithFields(logrus.Fields{
			"attendance_id": record.ID,
			"status":        record.Status,
		}).Info("attendance updated")
		utils.ResponseJSON(w, record)
	}
}

// GetAttendance handles GET /attendance. Without a date it lists the
// records of the store's current day.
func (ac AttendanceController) GetAttendance(store repository.AttendanceStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		verr := &utils.ValidationError{}
		filter := models.AttendanceFilter{Date: strings.TrimSpace(q.Get("date"))}
		filter.StudentID = optionalInt(q.Get("studentId"), "studentId", verr)
		filter.CourseID = optionalInt(q.Get("courseId"), "courseId", verr)
		if verr.Err() == nil {
			utils.ValidateStruct(filter, map[string]string{
				"Date":      "date",
				"StudentID": "studentId",
				"CourseID":  "courseId",
			}, verr)
		}
		if err := verr.Err(); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, models.Error{Message: err.Error()})
			return
		}

		ctx, cancel := ac.requestContext(r)
		defer cancel()

		records, err := store.List(ctx, filter)
		if err != nil {
			respondStoreError(w, r, err, models.AttendanceForm{StudentID: filter.StudentID, CourseID: filter.CourseID})
			return
		}
		utils.ResponseJSON(w, records)
	}
}

// parseAttendanceForm reads studentId, courseId and status. ids supplies
// the id fields when they come from somewhere other than the form.
func parseAttendanceForm(ids map[string][]string, r *http.Request) (models.AttendanceForm, error) {
	verr := &utils.ValidationError{}
	if err := r.ParseForm(); err != nil {
		verr.Add("request", "malformed form body")
		return models.AttendanceForm{}, verr
	}
	if ids == nil {
		ids = r.Form
	}

	form := models.AttendanceForm{
		StudentID: requiredInt(first(ids, "studentId"), "studentId", verr),
		CourseID:  requiredInt(first(ids, "courseId"), "courseId", verr),
		Status:    strings.TrimSpace(r.FormValue("status")),
	}
	if len(verr.Fields) == 0 {
		utils.ValidateStruct(form, formFieldNames, verr)
	} else if form.Status == "" {
		verr.Add("status", "is required")
	}
	return form, verr.Err()
}

func first(values map[string][]string, key string) string {
	if v := values[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func requiredInt(raw, field string, verr *utils.ValidationError) int {
	if strings.TrimSpace(raw) == "" {
		verr.Add(field, "is required")
		return 0
	}
	return optionalInt(raw, field, verr)
}

func optionalInt(raw, field string, verr *utils.ValidationError) int {
	if strings.TrimSpace(raw) == "" {
		return 0
	}
	n, err := utils.StrToInt(raw)
	if err != nil {
		verr.Add(field, "must be an integer")
		return 0
	}
	return n
}

func respondStoreError(w http.ResponseWriter, r *http.Request, err error, form models.AttendanceForm) {
	status, message := http.StatusInternalServerError, "Failed to save attendance"
	switch {
	case errors.Is(err, repository.ErrAlreadyRecorded):
		status, message = http.StatusConflict, "Attendance already recorded for this student and course today"
	case errors.Is(err, repository.ErrUnknownReference):
		status, message = http.StatusUnprocessableEntity, "Student or course does not exist"
	case errors.Is(err, repository.ErrNotFound):
		status, message = http.StatusNotFound, "No attendance recorded today for this student and course"
	case errors.Is(err, repository.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		status, message = http.StatusServiceUnavailable, "Attendance store unavailable"
	}

	entry := utils.Logger(r.Context()).WithError(err).WithFields(logrus.Fields{
		"student_id": form.StudentID,
		"course_id":  form.CourseID,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("attendance store failure")
	} else {
		entry.Warn("attendance request rejected")
	}
	utils.RespondWithError(w, status, models.Error{Message: message})
}

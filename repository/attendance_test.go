package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"attendance-recorder/config"
	"attendance-recorder/driver"
	"attendance-recorder/migrations"
	"attendance-recorder/models"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	cfg := &config.Config{
		DBDriver:       config.DriverSQLite,
		DBPath:         filepath.Join(t.TempDir(), "attendance.db"),
		DBMaxOpenConns: 4,
		DBMaxIdleConns: 2,
	}
	log, _ := test.NewNullLogger()

	if err := migrations.Up(cfg, log); err != nil {
		t.Fatalf("migrations.Up: %v", err)
	}
	db, err := driver.ConnectDB(cfg, log)
	if err != nil {
		t.Fatalf("ConnectDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, stmt := range []string{
		"INSERT INTO students (id, name) VALUES (7, 'Aigerim'), (8, 'Daniyar')",
		"INSERT INTO courses (id, name) VALUES (3, 'Algebra'), (4, 'History')",
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return db
}

func today(t *testing.T, db *sql.DB) string {
	t.Helper()
	var d string
	if err := db.QueryRow("SELECT CURRENT_DATE").Scan(&d); err != nil {
		t.Fatalf("current date: %v", err)
	}
	return d
}

func countRows(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM attendance").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func assertConnsReleased(t *testing.T, db *sql.DB) {
	t.Helper()
	if inUse := db.Stats().InUse; inUse != 0 {
		t.Errorf("connections in use = %d, want 0", inUse)
	}
}

func TestRecordInsertsTodaysRow(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAttendanceRepository(db)

	got, err := repo.Record(context.Background(), 7, 3, "present")
	if err != nil {
		t.Fatalf("Record() unexpected error: %v", err)
	}

	if got.ID == 0 || got.StudentID != 7 || got.CourseID != 3 || got.Status != "present" {
		t.Errorf("Record() = %+v", got)
	}
	if d := got.Date.Format("2006-01-02"); d != today(t, db) {
		t.Errorf("Record() date = %s, want %s", d, today(t, db))
	}
	if n := countRows(t, db); n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
	assertConnsReleased(t, db)
}

func TestRecordTwiceSameDay(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAttendanceRepository(db)
	ctx := context.Background()

	if _, err := repo.Record(ctx, 7, 3, "present"); err != nil {
		t.Fatalf("first Record() unexpected error: %v", err)
	}
	_, err := repo.Record(ctx, 7, 3, "absent")
	if !errors.Is(err, ErrAlreadyRecorded) {
		t.Fatalf("second Record() error = %v, want ErrAlreadyRecorded", err)
	}
	if n := countRows(t, db); n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}

	// a different course the same day is a separate record
	if _, err := repo.Record(ctx, 7, 4, "absent"); err != nil {
		t.Errorf("Record() other course unexpected error: %v", err)
	}
	assertConnsReleased(t, db)
}

func TestRecordUnknownReference(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAttendanceRepository(db)

	tests := []struct {
		name              string
		studentID, course int
	}{
		{"unknown student", 99, 3},
		{"unknown course", 7, 99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.Record(context.Background(), tt.studentID, tt.course, "present")
			if !errors.Is(err, ErrUnknownReference) {
				t.Errorf("Record() error = %v, want ErrUnknownReference", err)
			}
		})
	}
	if n := countRows(t, db); n != 0 {
		t.Errorf("rows = %d, want 0", n)
	}
	assertConnsReleased(t, db)
}

func TestRecordStoreUnavailable(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAttendanceRepository(db)
	db.Close()

	_, err := repo.Record(context.Background(), 7, 3, "present")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Record() error = %v, want ErrStoreUnavailable", err)
	}
	if err := repo.Ping(context.Background()); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Ping() error = %v, want ErrStoreUnavailable", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAttendanceRepository(db)
	ctx := context.Background()

	if _, err := repo.UpdateStatus(ctx, 7, 3, "late"); err != ErrNotFound {
		t.Errorf("UpdateStatus() before Record error = %v, want ErrNotFound", err)
	}

	created, err := repo.Record(ctx, 7, 3, "absent")
	if err != nil {
		t.Fatalf("Record() unexpected error: %v", err)
	}

	updated, err := repo.UpdateStatus(ctx, 7, 3, "late")
	if err != nil {
		t.Fatalf("UpdateStatus() unexpected error: %v", err)
	}
	if updated.ID != created.ID || updated.Status != "late" {
		t.Errorf("UpdateStatus() = %+v, want id %d with status late", updated, created.ID)
	}

	// same status again is still a success
	if _, err := repo.UpdateStatus(ctx, 7, 3, "late"); err != nil {
		t.Errorf("UpdateStatus() unchanged status error: %v", err)
	}
	if n := countRows(t, db); n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
	assertConnsReleased(t, db)
}

func TestList(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAttendanceRepository(db)
	ctx := context.Background()

	for _, r := range []struct {
		student, course int
		status          string
	}{
		{7, 3, "present"},
		{8, 3, "absent"},
		{7, 4, "late"},
	} {
		if _, err := repo.Record(ctx, r.student, r.course, r.status); err != nil {
			t.Fatalf("Record(%d, %d): %v", r.student, r.course, err)
		}
	}
	if _, err := db.Exec("INSERT INTO attendance (student_id, course_id, date, status) VALUES (7, 3, '2001-09-01', 'present')"); err != nil {
		t.Fatalf("seed old row: %v", err)
	}

	tests := []struct {
		name   string
		filter models.AttendanceFilter
		want   int
	}{
		{"today", models.AttendanceFilter{}, 3},
		{"by course", models.AttendanceFilter{CourseID: 3}, 2},
		{"by student", models.AttendanceFilter{StudentID: 7}, 2},
		{"by student and course", models.AttendanceFilter{StudentID: 8, CourseID: 3}, 1},
		{"explicit past date", models.AttendanceFilter{Date: "2001-09-01"}, 1},
		{"date without records", models.AttendanceFilter{Date: "1999-01-01"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() unexpected error: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("List() returned %d records, want %d", len(got), tt.want)
			}
			if got == nil {
				t.Error("List() returned nil slice, want empty")
			}
		})
	}
	assertConnsReleased(t, db)
}

func TestRecordRollsBackWhenRowCannotBeReadBack(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAttendanceRepository(db)

	// moves the new row away from the id LastInsertId reports
	trigger := `CREATE TRIGGER attendance_move_id AFTER INSERT ON attendance
		BEGIN UPDATE attendance SET id = NEW.id + 1000 WHERE id = NEW.id; END`
	if _, err := db.Exec(trigger); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	_, err := repo.Record(context.Background(), 7, 3, "present")
	if err == nil {
		t.Fatal("Record() expected error when the inserted row cannot be read back")
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyRecorded) {
		t.Errorf("Record() error = %v, want a plain store failure", err)
	}
	if n := countRows(t, db); n != 0 {
		t.Errorf("rows = %d, want 0 after rollback", n)
	}
	assertConnsReleased(t, db)

	if _, err := db.Exec("DROP TRIGGER attendance_move_id"); err != nil {
		t.Fatalf("drop trigger: %v", err)
	}
	if _, err := repo.Record(context.Background(), 7, 3, "present"); err != nil {
		t.Errorf("Record() after rollback unexpected error: %v", err)
	}
}

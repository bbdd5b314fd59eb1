// Package repository holds the attendance store: raw SQL against the
// attendance table, with driver errors mapped onto the sentinel errors
// below so callers never need to know which database is behind it.
package repository

//go:generate mockgen -destination=mock_repository/mock_attendance.go -package=mock_repository attendance-recorder/repository AttendanceStore

import (
	"context"
	"database/sql"
	"strings"

	"attendance-recorder/models"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var (
	ErrStoreUnavailable = errors.New("attendance store unavailable")
	ErrAlreadyRecorded  = errors.New("attendance already recorded for today")
	ErrUnknownReference = errors.New("student or course does not exist")
	ErrNotFound         = errors.New("attendance record not found")
)

const (
	mysqlDuplicateEntry    = 1062
	mysqlNoReferencedRow   = 1452
	mysqlNoReferencedRowV2 = 1216
)

// AttendanceStore is the capability the HTTP layer needs from the
// database.
type AttendanceStore interface {
	Record(ctx context.Context, studentID, courseID int, status string) (models.Attendance, error)
	UpdateStatus(ctx context.Context, studentID, courseID int, status string) (models.Attendance, error)
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.Attendance, error)
	Ping(ctx context.Context) error
}

type AttendanceRepository struct {
	db *sql.DB
}

var _ AttendanceStore = (*AttendanceRepository)(nil)

func NewAttendanceRepository(db *sql.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

const selectAttendance = "SELECT id, student_id, course_id, date, status FROM attendance"

// acquire takes one connection from the pool. The caller must Close it.
func (r *AttendanceRepository) acquire(ctx context.Context) (*sql.Conn, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(ErrStoreUnavailable, err.Error())
	}
	return conn, nil
}

// Record inserts today's attendance row for the student and course. The
// insert and its readback share one transaction, so a failed readback
// leaves nothing behind.
func (r *AttendanceRepository) Record(ctx context.Context, studentID, courseID int, status string) (models.Attendance, error) {
	conn, err := r.acquire(ctx)
	if err != nil {
		return models.Attendance{}, err
	}
	defer conn.Close()

	var record models.Attendance
	err = inTx(ctx, conn, func(tx *sql.Tx) error {
		query := "INSERT INTO attendance (student_id, course_id, date, status) VALUES (?, ?, CURRENT_DATE, ?)"
		result, err := tx.ExecContext(ctx, query, studentID, courseID, status)
		if err != nil {
			return classify(err, "insert attendance")
		}

		id, err := result.LastInsertId()
		if err != nil {
			return errors.Wrap(err, "last insert id")
		}

		record, err = scanOne(tx.QueryRowContext(ctx, selectAttendance+" WHERE id = ?", id))
		if err == ErrNotFound {
			return errors.Errorf("inserted attendance %d not readable", id)
		}
		return err
	})
	if err != nil {
		return models.Attendance{}, err
	}
	return record, nil
}

// UpdateStatus changes the status of today's row for the student and
// course. It returns ErrNotFound when nothing was recorded today.
func (r *AttendanceRepository) UpdateStatus(ctx context.Context, studentID, courseID int, status string) (models.Attendance, error) {
	conn, err := r.acquire(ctx)
	if err != nil {
		return models.Attendance{}, err
	}
	defer conn.Close()

	var record models.Attendance
	err = inTx(ctx, conn, func(tx *sql.Tx) error {
		query := "UPDATE attendance SET status = ? WHERE student_id = ? AND course_id = ? AND date = CURRENT_DATE"
		if _, err := tx.ExecContext(ctx, query, status, studentID, courseID); err != nil {
			return classify(err, "update attendance")
		}

		// MySQL reports zero affected rows when the status is unchanged, so
		// existence is decided by reading the row back.
		var err error
		record, err = scanOne(tx.QueryRowContext(ctx,
			selectAttendance+" WHERE student_id = ? AND course_id = ? AND date = CURRENT_DATE",
			studentID, courseID))
		return err
	})
	if err != nil {
		return models.Attendance{}, err
	}
	return record, nil
}

func (r *AttendanceRepository) List(ctx context.Context, filter models.AttendanceFilter) ([]models.Attendance, error) {
	conn, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var (
		where []string
		args  []interface{}
	)
	if filter.Date == "" {
		where = append(where, "date = CURRENT_DATE")
	} else {
		where = append(where, "date = ?")
		args = append(args, filter.Date)
	}
	if filter.StudentID > 0 {
		where = append(where, "student_id = ?")
		args = append(args, filter.StudentID)
	}
	if filter.CourseID > 0 {
		where = append(where, "course_id = ?")
		args = append(args, filter.CourseID)
	}
	query := selectAttendance + " WHERE " + strings.Join(where, " AND ") + " ORDER BY id"

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "list attendance")
	}
	defer rows.Close()

	records := []models.Attendance{}
	for rows.Next() {
		var a models.Attendance
		if err := rows.Scan(&a.ID, &a.StudentID, &a.CourseID, &a.Date, &a.Status); err != nil {
			return nil, errors.Wrap(err, "scan attendance")
		}
		records = append(records, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate attendance")
	}
	return records, nil
}

func (r *AttendanceRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return errors.Wrap(ErrStoreUnavailable, err.Error())
	}
	return nil
}

// inTx runs fn in a transaction on conn, committing only when fn
// succeeds.
func inTx(ctx context.Context, conn *sql.Conn, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(err, "commit transaction")
	}
	return nil
}

func scanOne(row *sql.Row) (models.Attendance, error) {
	var a models.Attendance
	err := row.Scan(&a.ID, &a.StudentID, &a.CourseID, &a.Date, &a.Status)
	if err == sql.ErrNoRows {
		return models.Attendance{}, ErrNotFound
	}
	if err != nil {
		return models.Attendance{}, errors.Wrap(err, "scan attendance")
	}
	return a, nil
}

// classify maps constraint violations from either driver onto the
// package sentinels and wraps everything else with op.
func classify(err error, op string) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDuplicateEntry:
			return errors.Wrap(ErrAlreadyRecorded, myErr.Message)
		case mysqlNoReferencedRow, mysqlNoReferencedRowV2:
			return errors.Wrap(ErrUnknownReference, myErr.Message)
		}
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return errors.Wrap(ErrAlreadyRecorded, liteErr.Error())
		case sqlite3.ErrConstraintForeignKey:
			return errors.Wrap(ErrUnknownReference, liteErr.Error())
		}
	}

	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(ErrStoreUnavailable, err.Error())
	}
	return errors.Wrap(err, op)
}

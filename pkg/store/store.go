// Package store provides SQLite-backed persistence for users and
// attendance records. Uniqueness of a registration number and of one
// attendance row per user per day is enforced by the schema itself, so
// the guarantees hold across restarts and concurrent writers, not just
// against the in-session caches.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/secureattend/secureattend/pkg/logging"
)

// DateLayout is the calendar-day format used for the attendance day guard.
const DateLayout = "2006-01-02"

// ErrUserNotFound is returned when a user lookup matches nothing.
var ErrUserNotFound = errors.New("user not found")

// ErrDuplicateRegistration is returned when a registration number is
// already taken.
var ErrDuplicateRegistration = errors.New("registration number already exists")

// User is a registered person.
type User struct {
	UserID             string
	Name               string
	RegistrationNumber string
	Email              string
	Department         string
	RegistrationDate   string
	FaceEncodingHash   string
	TotalAttendance    int
	LastAttendance     string
	Active             bool
}

// Attendance is one persisted attendance mark.
type Attendance struct {
	ID                 int64
	UserID             string
	Name               string
	RegistrationNumber string
	Timestamp          time.Time
	Date               string
	Time               string
	LivenessScore      float64
	Emotion            string
	EngagementScore    float64
	Confidence         float64
	LedgerHash         string
	FaceEncodingHash   string
	Location           string
}

// Summary aggregates attendance figures for a day or overall.
type Summary struct {
	Total         int
	AvgEngagement float64
	AvgLiveness   float64
	AvgConfidence float64
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the attendance database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logging.Component("store").Infof("Database open: %s", path)
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		registration_number TEXT UNIQUE,
		email TEXT,
		department TEXT,
		registration_date TEXT NOT NULL,
		face_encoding_hash TEXT,
		total_attendance INTEGER DEFAULT 0,
		last_attendance TEXT,
		is_active INTEGER DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS attendance (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		registration_number TEXT,
		timestamp TEXT NOT NULL,
		date TEXT NOT NULL,
		time TEXT NOT NULL,
		liveness_score REAL,
		emotion TEXT,
		engagement_score REAL,
		confidence REAL,
		ledger_hash TEXT,
		face_encoding_hash TEXT,
		location TEXT,
		UNIQUE(user_id, date),
		FOREIGN KEY (user_id) REFERENCES users(user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance(date);
	CREATE INDEX IF NOT EXISTS idx_attendance_user ON attendance(user_id);
	CREATE INDEX IF NOT EXISTS idx_users_regno ON users(registration_number);
	CREATE INDEX IF NOT EXISTS idx_users_active ON users(is_active);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a SQLite unique-constraint
// failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// AddUser registers a new user. A duplicate registration number or user
// id yields ErrDuplicateRegistration.
func (s *Store) AddUser(u User) error {
	if u.RegistrationDate == "" {
		u.RegistrationDate = time.Now().Format("2006-01-02 15:04:05")
	}

	_, err := s.db.Exec(`
		INSERT INTO users
		(user_id, name, registration_number, email, department,
		 registration_date, face_encoding_hash, total_attendance, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 1)`,
		u.UserID, u.Name, u.RegistrationNumber, u.Email, u.Department,
		u.RegistrationDate, u.FaceEncodingHash)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRegistration
		}
		return fmt.Errorf("failed to add user: %w", err)
	}

	logging.Component("store").Infof("User registered: %s (%s)", u.Name, u.RegistrationNumber)
	return nil
}

// MarkAttendance inserts one attendance row for the user and day carried
// by rec, updating the user's totals in the same transaction. A duplicate
// for the same (user, date) is an expected outcome, reported as
// (false, "already marked today", nil), never an error.
func (s *Store) MarkAttendance(rec Attendance) (bool, string, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.Date = rec.Timestamp.Format(DateLayout)
	rec.Time = rec.Timestamp.Format("15:04:05")

	tx, err := s.db.Begin()
	if err != nil {
		return false, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO attendance
		(user_id, name, registration_number, timestamp, date, time,
		 liveness_score, emotion, engagement_score, confidence,
		 ledger_hash, face_encoding_hash, location)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.Name, rec.RegistrationNumber,
		rec.Timestamp.Format("2006-01-02 15:04:05"), rec.Date, rec.Time,
		rec.LivenessScore, rec.Emotion, rec.EngagementScore, rec.Confidence,
		rec.LedgerHash, rec.FaceEncodingHash, rec.Location)
	if err != nil {
		if isUniqueViolation(err) {
			return false, "already marked today", nil
		}
		return false, "", fmt.Errorf("failed to insert attendance: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE users
		SET total_attendance = total_attendance + 1, last_attendance = ?
		WHERE user_id = ?`,
		rec.Timestamp.Format("2006-01-02 15:04:05"), rec.UserID)
	if err != nil {
		return false, "", fmt.Errorf("failed to update user totals: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, "", fmt.Errorf("failed to commit attendance: %w", err)
	}

	logging.Component("store").Infof("Attendance marked: %s (%s)", rec.Name, rec.RegistrationNumber)
	return true, "ok", nil
}

// HasAttendance reports whether the user already has a mark for the day.
func (s *Store) HasAttendance(userID, date string) (bool, error) {
	var id int64
	err := s.db.QueryRow(
		`SELECT id FROM attendance WHERE user_id = ? AND date = ?`,
		userID, date).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query attendance: %w", err)
	}
	return true, nil
}

// Attendance retrieves attendance rows, newest first. Empty date or
// userID filters are ignored.
func (s *Store) Attendance(date, userID string, limit int) ([]Attendance, error) {
	query := `SELECT id, user_id, name, registration_number, timestamp, date, time,
		liveness_score, emotion, engagement_score, confidence,
		ledger_hash, face_encoding_hash, location FROM attendance`
	var args []interface{}
	var conds []string

	if date != "" {
		conds = append(conds, "date = ?")
		args = append(args, date)
	}
	if userID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, userID)
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	// SQLite treats LIMIT -1 as unlimited.
	if limit <= 0 {
		limit = -1
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	defer rows.Close()

	var records []Attendance
	for rows.Next() {
		var rec Attendance
		var ts string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Name, &rec.RegistrationNumber,
			&ts, &rec.Date, &rec.Time,
			&rec.LivenessScore, &rec.Emotion, &rec.EngagementScore, &rec.Confidence,
			&rec.LedgerHash, &rec.FaceEncodingHash, &rec.Location); err != nil {
			return nil, fmt.Errorf("failed to scan attendance row: %w", err)
		}
		rec.Timestamp, _ = time.Parse("2006-01-02 15:04:05", ts)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var active int
	var regno, email, dept, faceHash, lastAtt sql.NullString
	err := row.Scan(&u.UserID, &u.Name, &regno, &email, &dept,
		&u.RegistrationDate, &faceHash, &u.TotalAttendance, &lastAtt, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.RegistrationNumber = regno.String
	u.Email = email.String
	u.Department = dept.String
	u.FaceEncodingHash = faceHash.String
	u.LastAttendance = lastAtt.String
	u.Active = active != 0
	return &u, nil
}

const userColumns = `user_id, name, registration_number, email, department,
	registration_date, face_encoding_hash, total_attendance, last_attendance, is_active`

// UserByID looks a user up by id.
func (s *Store) UserByID(userID string) (*User, error) {
	return scanUser(s.db.QueryRow(
		`SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID))
}

// UserByRegNo looks a user up by registration number.
func (s *Store) UserByRegNo(regno string) (*User, error) {
	return scanUser(s.db.QueryRow(
		`SELECT `+userColumns+` FROM users WHERE registration_number = ?`, regno))
}

// Users lists registered users ordered by name.
func (s *Store) Users(activeOnly bool) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var active int
		var regno, email, dept, faceHash, lastAtt sql.NullString
		if err := rows.Scan(&u.UserID, &u.Name, &regno, &email, &dept,
			&u.RegistrationDate, &faceHash, &u.TotalAttendance, &lastAtt, &active); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		u.RegistrationNumber = regno.String
		u.Email = email.String
		u.Department = dept.String
		u.FaceEncodingHash = faceHash.String
		u.LastAttendance = lastAtt.String
		u.Active = active != 0
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteUser removes a user permanently.
func (s *Store) DeleteUser(userID string) error {
	res, err := s.db.Exec(`DELETE FROM users WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrUserNotFound
	}
	logging.Component("store").Infof("User deleted: %s", userID)
	return nil
}

// AttendanceSummary aggregates attendance for one date, or overall when
// date is empty.
func (s *Store) AttendanceSummary(date string) (Summary, error) {
	query := `SELECT COUNT(*),
		COALESCE(AVG(engagement_score), 0),
		COALESCE(AVG(liveness_score), 0),
		COALESCE(AVG(confidence), 0) FROM attendance`
	var args []interface{}
	if date != "" {
		query += ` WHERE date = ?`
		args = append(args, date)
	}

	var sum Summary
	err := s.db.QueryRow(query, args...).Scan(
		&sum.Total, &sum.AvgEngagement, &sum.AvgLiveness, &sum.AvgConfidence)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to query summary: %w", err)
	}
	return sum, nil
}

// Package store persists rooms, pomodoro records, coin transactions and
// notes in sqlite. It backs the record REST API; the realtime plane never
// touches it.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/studyroom/studyroom/internal/domain"
	"github.com/studyroom/studyroom/internal/records"
)

var ErrNotFound = errors.New("not found")

// SuccessCoins is the reward for one successful focus cycle.
const SuccessCoins = 5

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title VARCHAR(100) NOT NULL,
		subject VARCHAR(50) NOT NULL,
		description VARCHAR(300),
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS pomodoros (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id INTEGER NOT NULL,
		client_token VARCHAR(64) NOT NULL,
		duration_minutes INTEGER NOT NULL,
		result VARCHAR(20) NOT NULL,
		awarded_coins INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS coin_transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id INTEGER NOT NULL,
		client_token VARCHAR(64) NOT NULL,
		amount INTEGER NOT NULL,
		reason VARCHAR(50) NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_token VARCHAR(64) NOT NULL,
		title VARCHAR(200) NOT NULL,
		content TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_pomodoros_room_created ON pomodoros(room_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_coins_room_token ON coin_transactions(room_id, client_token);
	CREATE INDEX IF NOT EXISTS idx_notes_token ON notes(client_token);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ---- Rooms ----

func (s *Store) CreateRoom(req records.CreateRoomRequest) (domain.Room, error) {
	res, err := s.db.Exec(
		`INSERT INTO rooms (title, subject, description) VALUES (?, ?, ?)`,
		req.Title, req.Subject, req.Description,
	)
	if err != nil {
		return domain.Room{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Room{}, err
	}
	return s.GetRoom(domain.RoomID(id))
}

func (s *Store) GetRoom(id domain.RoomID) (domain.Room, error) {
	var r domain.Room
	err := s.db.QueryRow(
		`SELECT id, title, subject, COALESCE(description, ''), created_at FROM rooms WHERE id = ?`, id,
	).Scan(&r.ID, &r.Title, &r.Subject, &r.Description, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Room{}, fmt.Errorf("room %d: %w", id, ErrNotFound)
	}
	return r, err
}

func (s *Store) ListRooms() ([]domain.Room, error) {
	rows, err := s.db.Query(
		`SELECT id, title, subject, COALESCE(description, ''), created_at FROM rooms ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Room{}
	for rows.Next() {
		var r domain.Room
		if err := rows.Scan(&r.ID, &r.Title, &r.Subject, &r.Description, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteRoom(id domain.RoomID) error {
	res, err := s.db.Exec(`DELETE FROM rooms WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("room %d: %w", id, ErrNotFound)
	}
	return nil
}

// ---- Pomodoros & coins ----

// CreatePomodoro persists one focus record and, on success, awards coins
// in the same transaction.
func (s *Store) CreatePomodoro(roomID domain.RoomID, clientToken string, req records.CreatePomodoroRequest) (records.Pomodoro, error) {
	if _, err := s.GetRoom(roomID); err != nil {
		return records.Pomodoro{}, err
	}

	awarded := 0
	if req.Result == records.ResultSuccess {
		awarded = SuccessCoins
	}

	tx, err := s.db.Begin()
	if err != nil {
		return records.Pomodoro{}, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO pomodoros (room_id, client_token, duration_minutes, result, awarded_coins)
		 VALUES (?, ?, ?, ?, ?)`,
		roomID, clientToken, req.DurationMinutes, req.Result, awarded,
	)
	if err != nil {
		return records.Pomodoro{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return records.Pomodoro{}, err
	}

	if awarded > 0 {
		if _, err := tx.Exec(
			`INSERT INTO coin_transactions (room_id, client_token, amount, reason) VALUES (?, ?, ?, 'pomodoro')`,
			roomID, clientToken, awarded,
		); err != nil {
			return records.Pomodoro{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return records.Pomodoro{}, err
	}

	var p records.Pomodoro
	err = s.db.QueryRow(
		`SELECT id, room_id, duration_minutes, result, awarded_coins, created_at FROM pomodoros WHERE id = ?`, id,
	).Scan(&p.ID, &p.RoomID, &p.DurationMinutes, &p.Result, &p.AwardedCoins, &p.CreatedAt)
	return p, err
}

// ListPomodoros returns the most recent records for a room, newest first.
func (s *Store) ListPomodoros(roomID domain.RoomID, limit int) ([]records.Pomodoro, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, room_id, duration_minutes, result, awarded_coins, created_at
		 FROM pomodoros WHERE room_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		roomID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []records.Pomodoro{}
	for rows.Next() {
		var p records.Pomodoro
		if err := rows.Scan(&p.ID, &p.RoomID, &p.DurationMinutes, &p.Result, &p.AwardedCoins, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetCoins(roomID domain.RoomID, clientToken string) (records.Coins, error) {
	var total int
	err := s.db.QueryRow(
		`SELECT COALESCE(SUM(amount), 0) FROM coin_transactions WHERE room_id = ? AND client_token = ?`,
		roomID, clientToken,
	).Scan(&total)
	if err != nil {
		return records.Coins{}, err
	}
	return records.Coins{RoomID: roomID, TotalCoins: total}, nil
}

// ---- Notes ----

func (s *Store) CreateNote(clientToken string, n records.Note) (records.Note, error) {
	res, err := s.db.Exec(
		`INSERT INTO notes (client_token, title, content) VALUES (?, ?, ?)`,
		clientToken, n.Title, n.Content,
	)
	if err != nil {
		return records.Note{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return records.Note{}, err
	}
	return s.getNote(clientToken, id)
}

func (s *Store) ListNotes(clientToken string) ([]records.Note, error) {
	rows, err := s.db.Query(
		`SELECT id, title, COALESCE(content, ''), created_at FROM notes WHERE client_token = ? ORDER BY created_at DESC`,
		clientToken,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []records.Note{}
	for rows.Next() {
		var n records.Note
		if err := rows.Scan(&n.ID, &n.Title, &n.Content, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) UpdateNote(clientToken string, n records.Note) (records.Note, error) {
	res, err := s.db.Exec(
		`UPDATE notes SET title = ?, content = ? WHERE id = ? AND client_token = ?`,
		n.Title, n.Content, n.ID, clientToken,
	)
	if err != nil {
		return records.Note{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return records.Note{}, err
	}
	if affected == 0 {
		return records.Note{}, fmt.Errorf("note %d: %w", n.ID, ErrNotFound)
	}
	return s.getNote(clientToken, n.ID)
}

func (s *Store) DeleteNote(clientToken string, id int64) error {
	res, err := s.db.Exec(`DELETE FROM notes WHERE id = ? AND client_token = ?`, id, clientToken)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("note %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) getNote(clientToken string, id int64) (records.Note, error) {
	var n records.Note
	err := s.db.QueryRow(
		`SELECT id, title, COALESCE(content, ''), created_at FROM notes WHERE id = ? AND client_token = ?`,
		id, clientToken,
	).Scan(&n.ID, &n.Title, &n.Content, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return records.Note{}, fmt.Errorf("note %d: %w", id, ErrNotFound)
	}
	return n, err
}

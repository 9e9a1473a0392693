package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/tcriess/roomchat/config"
	"github.com/tcriess/roomchat/types"
)

// SQLPersist stores everything with plain database/sql, either in SQLite (go-sqlite3) or PostgreSQL (lib/pq).
// Timestamps are stored as unix nanoseconds so that both dialects share one schema and ordering.
type SQLPersist struct {
	db *sql.DB
	sync.RWMutex
}

var sqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
id TEXT PRIMARY KEY,
username TEXT NOT NULL UNIQUE,
email TEXT DEFAULT '' NOT NULL,
created_at BIGINT DEFAULT 0 NOT NULL,
last_login BIGINT DEFAULT 0 NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS rooms (
id TEXT PRIMARY KEY,
name TEXT NOT NULL UNIQUE,
description TEXT DEFAULT '' NOT NULL,
created_by TEXT DEFAULT '' NOT NULL,
members TEXT DEFAULT '[]' NOT NULL,
created_at BIGINT DEFAULT 0 NOT NULL,
last_activity BIGINT DEFAULT 0 NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS rooms_last_activity_idx ON rooms (last_activity);`,
	`CREATE TABLE IF NOT EXISTS messages (
id TEXT PRIMARY KEY,
user_id TEXT DEFAULT '' NOT NULL,
username TEXT DEFAULT '' NOT NULL,
room_id TEXT NOT NULL,
content TEXT DEFAULT '' NOT NULL,
sent BIGINT NOT NULL,
is_system BOOLEAN DEFAULT FALSE NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS messages_room_sent_idx ON messages (room_id, sent);`,
}

func NewSQLPersister(cfg *config.Config) (Persister, error) {
	db, err := setupSQLDB(cfg)
	if err != nil {
		return nil, err
	}
	return &SQLPersist{db: db}, nil
}

func setupSQLDB(cfg *config.Config) (*sql.DB, error) {
	var driverName string
	switch cfg.PersistenceConfig.Type {
	case "sqlite":
		driverName = "sqlite3"
	case "postgres":
		driverName = "postgres"
	default:
		return nil, fmt.Errorf("invalid sql configuration")
	}
	if cfg.PersistenceConfig.DSN == "" {
		return nil, fmt.Errorf("no dsn configured")
	}
	db, err := sql.Open(driverName, cfg.PersistenceConfig.DSN)
	if err != nil {
		return nil, err
	}
	if driverName == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	for _, query := range sqlSchema {
		_, err = db.Exec(query)
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func translateSQLErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (p *SQLPersist) StoreUser(user types.User) error {
	p.Lock()
	defer p.Unlock()
	query := `INSERT INTO users (id,username,email,created_at,last_login) VALUES ($1,$2,$3,$4,$5) ON CONFLICT (id) DO UPDATE SET username=EXCLUDED.username,email=EXCLUDED.email,created_at=EXCLUDED.created_at,last_login=EXCLUDED.last_login;`
	_, err := p.db.Exec(query, user.Id, user.Username, user.Email, toNanos(user.CreatedAt), toNanos(user.LastLogin))
	return err
}

func (p *SQLPersist) GetUser(user *types.User) error {
	p.RLock()
	defer p.RUnlock()
	var createdAt, lastLogin int64
	query := `SELECT username,email,created_at,last_login FROM users WHERE id=$1;`
	err := p.db.QueryRow(query, user.Id).Scan(&user.Username, &user.Email, &createdAt, &lastLogin)
	if err != nil {
		return translateSQLErr(err)
	}
	user.CreatedAt = fromNanos(createdAt)
	user.LastLogin = fromNanos(lastLogin)
	return nil
}

func (p *SQLPersist) GetUsers() ([]*types.User, error) {
	p.RLock()
	defer p.RUnlock()
	users := make([]*types.User, 0)
	query := `SELECT id,username,email,created_at,last_login FROM users ORDER BY id;`
	rows, err := p.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var user types.User
		var createdAt, lastLogin int64
		err = rows.Scan(&user.Id, &user.Username, &user.Email, &createdAt, &lastLogin)
		if err != nil {
			return nil, err
		}
		user.CreatedAt = fromNanos(createdAt)
		user.LastLogin = fromNanos(lastLogin)
		users = append(users, &user)
	}
	return users, rows.Err()
}

func (p *SQLPersist) DeleteUser(user *types.User) error {
	p.Lock()
	defer p.Unlock()
	return p.deleteById(`DELETE FROM users WHERE id=$1;`, user.Id)
}

func (p *SQLPersist) deleteById(query, id string) error {
	res, err := p.db.Exec(query, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *SQLPersist) StoreRoom(room types.Room) error {
	p.Lock()
	defer p.Unlock()
	members, err := room.Members.Value()
	if err != nil {
		return err
	}
	query := `INSERT INTO rooms (id,name,description,created_by,members,created_at,last_activity) VALUES ($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name,description=EXCLUDED.description,created_by=EXCLUDED.created_by,members=EXCLUDED.members,created_at=EXCLUDED.created_at,last_activity=EXCLUDED.last_activity;`
	_, err = p.db.Exec(query, room.Id, room.Name, room.Description, room.CreatedBy, members, toNanos(room.CreatedAt), toNanos(room.LastActivity))
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRoom(row rowScanner, room *types.Room) error {
	var createdAt, lastActivity int64
	err := row.Scan(&room.Id, &room.Name, &room.Description, &room.CreatedBy, &room.Members, &createdAt, &lastActivity)
	if err != nil {
		return err
	}
	room.CreatedAt = fromNanos(createdAt)
	room.LastActivity = fromNanos(lastActivity)
	return nil
}

func (p *SQLPersist) GetRoom(room *types.Room) error {
	p.RLock()
	defer p.RUnlock()
	query := `SELECT id,name,description,created_by,members,created_at,last_activity FROM rooms WHERE id=$1;`
	return translateSQLErr(scanRoom(p.db.QueryRow(query, room.Id), room))
}

func (p *SQLPersist) GetRooms(limit int) ([]*types.Room, error) {
	p.RLock()
	defer p.RUnlock()
	query := `SELECT id,name,description,created_by,members,created_at,last_activity FROM rooms ORDER BY last_activity DESC`
	args := make([]interface{}, 0, 1)
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := p.db.Query(query+";", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	rooms := make([]*types.Room, 0)
	for rows.Next() {
		var room types.Room
		if err := scanRoom(rows, &room); err != nil {
			return nil, err
		}
		rooms = append(rooms, &room)
	}
	return rooms, rows.Err()
}

func (p *SQLPersist) DeleteRoom(room *types.Room) error {
	p.Lock()
	defer p.Unlock()
	return p.deleteById(`DELETE FROM rooms WHERE id=$1;`, room.Id)
}

func (p *SQLPersist) StoreMessage(message *types.Message) error {
	p.Lock()
	defer p.Unlock()
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	query := `INSERT INTO messages (id,user_id,username,room_id,content,sent,is_system) VALUES ($1,$2,$3,$4,$5,$6,$7);`
	_, err = tx.Exec(query, message.Id, message.UserId, message.Username, message.RoomId, message.Content, toNanos(message.Timestamp), message.IsSystem)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	query = `UPDATE rooms SET last_activity=$2 WHERE id=$1;`
	_, err = tx.Exec(query, message.RoomId, toNanos(message.Timestamp))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (p *SQLPersist) GetRecentMessages(roomId string, limit int) ([]*types.Message, error) {
	p.RLock()
	defer p.RUnlock()
	query := `SELECT id,user_id,username,room_id,content,sent,is_system FROM messages WHERE room_id=$1 ORDER BY sent DESC`
	args := []interface{}{roomId}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := p.db.Query(query+";", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	messages := make([]*types.Message, 0)
	for rows.Next() {
		var message types.Message
		var sent int64
		err = rows.Scan(&message.Id, &message.UserId, &message.Username, &message.RoomId, &message.Content, &sent, &message.IsSystem)
		if err != nil {
			return nil, err
		}
		message.Timestamp = fromNanos(sent)
		messages = append(messages, &message)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverseMessages(messages)
	return messages, nil
}

func (p *SQLPersist) DeleteMessagesBefore(before time.Time) (int, error) {
	p.Lock()
	defer p.Unlock()
	res, err := p.db.Exec(`DELETE FROM messages WHERE sent < $1;`, before.UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (p *SQLPersist) Close() error {
	p.Lock()
	defer p.Unlock()
	return p.db.Close()
}

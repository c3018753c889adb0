package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS chats (
            id SERIAL PRIMARY KEY,
            kind TEXT NOT NULL CHECK (kind IN ('direct', 'group')),
            last_message_id INT,
            archived BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS chat_participants (
            chat_id INT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            role TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('member', 'admin')),
            unread_count INT NOT NULL DEFAULT 0 CHECK (unread_count >= 0),
            joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (chat_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id SERIAL PRIMARY KEY,
            chat_id INT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
            sender_id INT NOT NULL,
            content TEXT NOT NULL,
            reply_to_id INT REFERENCES messages(id),
            client_id TEXT UNIQUE,
            is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
            deleted_for_everyone BOOLEAN NOT NULL DEFAULT FALSE,
            is_edited BOOLEAN NOT NULL DEFAULT FALSE,
            edited_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages (chat_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS message_hidden (
            message_id INT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            PRIMARY KEY (message_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS message_reactions (
            message_id INT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            emoji TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (message_id, user_id, emoji)
        );`,
		`CREATE TABLE IF NOT EXISTS read_receipts (
            message_id INT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            read_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (message_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS calls (
            id SERIAL PRIMARY KEY,
            chat_id INT REFERENCES chats(id) ON DELETE SET NULL,
            caller_id INT NOT NULL,
            kind TEXT NOT NULL CHECK (kind IN ('audio', 'video')),
            status TEXT NOT NULL DEFAULT 'ringing' CHECK (status IN
                ('ringing', 'ongoing', 'completed', 'missed', 'rejected', 'cancelled', 'failed')),
            started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            answered_at TIMESTAMPTZ,
            ended_at TIMESTAMPTZ,
            duration_seconds INT NOT NULL DEFAULT 0,
            timeout_at TIMESTAMPTZ
        );`,
		`CREATE INDEX IF NOT EXISTS idx_calls_ringing_timeout ON calls (timeout_at) WHERE status = 'ringing';`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_calls_caller_active ON calls (caller_id)
            WHERE status IN ('ringing', 'ongoing');`,
		`CREATE TABLE IF NOT EXISTS call_participants (
            call_id INT NOT NULL REFERENCES calls(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            state TEXT NOT NULL DEFAULT 'invited' CHECK (state IN
                ('invited', 'joined', 'left', 'declined')),
            joined_at TIMESTAMPTZ,
            left_at TIMESTAMPTZ,
            PRIMARY KEY (call_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS blocked_users (
            blocker_id INT NOT NULL,
            blocked_id INT NOT NULL,
            PRIMARY KEY (blocker_id, blocked_id)
        );`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Info("database migrations applied")
	return nil
}

package repos

import (
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

func OpenDB(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if dsn == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSchema(db *sqlx.DB) error {
	schema := `
-- Guest key-value storage (lists and default ids per guest scope)
CREATE TABLE IF NOT EXISTS guest_storage(
  storage_key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at TEXT DEFAULT CURRENT_TIMESTAMP
);

-- Shopper sessions
CREATE TABLE IF NOT EXISTS shopper_sessions(
  id TEXT PRIMARY KEY,               -- same value as the 'sid' cookie
  guest_id TEXT NOT NULL,
  cart_id TEXT,
  user_id TEXT,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  last_seen  TEXT
);
CREATE INDEX IF NOT EXISTS idx_shopper_sessions_last_seen ON shopper_sessions(last_seen);
`
	_, err := db.Exec(schema)
	return err
}

package repos

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"storefront/internal/guest"
	applog "storefront/internal/log"
)

// GuestRepo keeps guest storage in sqlite.
type GuestRepo struct{ db *sqlx.DB }

var _ guest.Store = (*GuestRepo)(nil)

func NewGuestRepo(db *sqlx.DB) *GuestRepo { return &GuestRepo{db: db} }

func (r *GuestRepo) Get(key string) ([]byte, bool) {
	var v string
	err := r.db.Get(&v, `SELECT value FROM guest_storage WHERE storage_key=?`, key)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			applog.Warn(nil, "guest.sqlite.get", err, map[string]any{"key": key})
		}
		return nil, false
	}
	return []byte(v), true
}

func (r *GuestRepo) Set(key string, value []byte) bool {
	_, err := r.db.Exec(`
	  INSERT INTO guest_storage(storage_key, value, updated_at)
	  VALUES(?, ?, CURRENT_TIMESTAMP)
	  ON CONFLICT(storage_key) DO UPDATE SET value=excluded.value, updated_at=CURRENT_TIMESTAMP
	`, key, string(value))
	if err != nil {
		applog.Warn(nil, "guest.sqlite.set", err, map[string]any{"key": key})
		return false
	}
	return true
}

func (r *GuestRepo) Delete(key string) bool {
	if _, err := r.db.Exec(`DELETE FROM guest_storage WHERE storage_key=?`, key); err != nil {
		applog.Warn(nil, "guest.sqlite.delete", err, map[string]any{"key": key})
		return false
	}
	return true
}

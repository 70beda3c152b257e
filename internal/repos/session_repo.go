package repos

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// SessionRow is what survives a restart for one sid. Upstream tokens are not
// stored, so a signed-in shopper comes back as their guest identity.
type SessionRow struct {
	ID      string         `db:"id"`
	GuestID string         `db:"guest_id"`
	CartID  sql.NullString `db:"cart_id"`
	UserID  sql.NullString `db:"user_id"`
}

type SessionRepo struct{ DB *sqlx.DB }

func NewSessionRepo(db *sqlx.DB) *SessionRepo { return &SessionRepo{DB: db} }

// Lookup returns the stored row for sid; ok is false when there is none.
func (r *SessionRepo) Lookup(sid string) (SessionRow, bool, error) {
	var row SessionRow
	err := r.DB.Get(&row, `SELECT id,guest_id,cart_id,user_id FROM shopper_sessions WHERE id=?`, sid)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRow{}, false, nil
	}
	if err != nil {
		return SessionRow{}, false, err
	}
	return row, true, nil
}

func (r *SessionRepo) Save(sid, guestID, cartID, userID string) error {
	_, err := r.DB.Exec(`INSERT INTO shopper_sessions(id,guest_id,cart_id,user_id,last_seen)
                         VALUES(?,?,NULLIF(?,''),NULLIF(?,''),CURRENT_TIMESTAMP)
                         ON CONFLICT(id) DO UPDATE SET guest_id=excluded.guest_id,cart_id=excluded.cart_id,
                           user_id=excluded.user_id,last_seen=CURRENT_TIMESTAMP`, sid, guestID, cartID, userID)
	return err
}

func (r *SessionRepo) Delete(sid string) error {
	_, err := r.DB.Exec(`DELETE FROM shopper_sessions WHERE id=?`, sid)
	return err
}

package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/BTreeMap/GateChat/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// placeholderFunc renders the n-th (1-based) bind parameter for a SQL dialect.
type placeholderFunc func(n int) string

func sqlitePlaceholder(int) string { return "?" }

func postgresPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// buildProfileUpdate renders a single UPDATE statement covering only the
// non-nil fields of upd. The chat id is always the last bind parameter.
func buildProfileUpdate(upd models.ProfileUpdate, chatID int64, ph placeholderFunc) (string, []interface{}) {
	var sets []string
	var args []interface{}
	if upd.Name != nil {
		args = append(args, *upd.Name)
		sets = append(sets, "name = "+ph(len(args)))
	}
	if upd.Phone != nil {
		args = append(args, *upd.Phone)
		sets = append(sets, "phone = "+ph(len(args)))
	}
	args = append(args, chatID)
	query := fmt.Sprintf("UPDATE users SET %s WHERE chat_id = %s", strings.Join(sets, ", "), ph(len(args)))
	return query, args
}

// scanProfileRow scans a UserProfile from a single sql.Row.
func scanProfileRow(row *sql.Row) (*models.UserProfile, error) {
	var p models.UserProfile
	var name, phone, handle sql.NullString
	if err := row.Scan(&p.ChatID, &name, &phone, &handle, &p.RegistrationDate); err != nil {
		return nil, err
	}
	if name.Valid {
		p.Name = &name.String
	}
	if phone.Valid {
		p.Phone = &phone.String
	}
	if handle.Valid {
		p.Handle = &handle.String
	}
	return &p, nil
}

package pgstore

import (
	"context"

	"github.com/dmitrymomot/notifier/pkg/email"
	"github.com/dmitrymomot/notifier/pkg/pg"
)

// DefaultRecipientQuery reads the address from the host application's users table.
const DefaultRecipientQuery = `SELECT email FROM users WHERE id = $1`

// RecipientDirectory implements email.RecipientResolver with a single-column query.
type RecipientDirectory struct {
	db    DBTX
	query string
}

// NewRecipientDirectory creates a directory. An empty query selects
// DefaultRecipientQuery; a custom one must take the user id as $1 and
// return one text column.
func NewRecipientDirectory(db DBTX, query string) *RecipientDirectory {
	if query == "" {
		query = DefaultRecipientQuery
	}
	return &RecipientDirectory{db: db, query: query}
}

var _ email.RecipientResolver = (*RecipientDirectory)(nil)

func (d *RecipientDirectory) Email(ctx context.Context, userID string) (string, error) {
	var addr *string
	err := d.db.QueryRow(ctx, d.query, userID).Scan(&addr)
	if pg.IsNotFoundError(err) || (err == nil && (addr == nil || *addr == "")) {
		return "", email.ErrRecipientNotFound
	}
	if err != nil {
		return "", err
	}
	return *addr, nil
}

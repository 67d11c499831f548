package sqlstore

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/itscraftings/converse/internal/model"
)

const selectUser = `SELECT id, username, email, name, image, created_at FROM users`

type users struct{ s *Store }

func (u *users) Create(ctx context.Context, m *model.User) (*model.User, error) {
	out := *m
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	out.CreatedAt = u.s.timestamp()
	_, err := u.s.db.ExecContext(ctx, u.s.db.Rebind(`
        INSERT INTO users (id, username, email, name, image, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
    `), out.ID, out.Username, out.Email, out.Name, out.Image, out.CreatedAt)
	if err != nil {
		return nil, classify("create user", err)
	}
	return &out, nil
}

func (u *users) Ensure(ctx context.Context, m *model.User) (*model.User, error) {
	if m.ID == "" {
		return u.Create(ctx, m)
	}
	_, err := u.s.db.ExecContext(ctx, u.s.db.Rebind(`
        INSERT INTO users (id, username, email, name, image, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT (id) DO NOTHING
    `), m.ID, m.Username, m.Email, m.Name, m.Image, u.s.timestamp())
	if err != nil {
		return nil, classify("ensure user", err)
	}
	return u.Get(ctx, m.ID)
}

func (u *users) Get(ctx context.Context, userID string) (*model.User, error) {
	var out model.User
	if err := u.s.db.GetContext(ctx, &out, u.s.db.Rebind(selectUser+` WHERE id = ?`), userID); err != nil {
		return nil, classify("get user", err)
	}
	return &out, nil
}

func (u *users) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	var out model.User
	if err := u.s.db.GetContext(ctx, &out, u.s.db.Rebind(selectUser+` WHERE username = ?`), username); err != nil {
		return nil, classify("get user by username", err)
	}
	return &out, nil
}

func (u *users) SetUsername(ctx context.Context, userID, username string) error {
	res, err := u.s.db.ExecContext(ctx, u.s.db.Rebind(`
        UPDATE users SET username = ? WHERE id = ? AND username IS NULL
    `), username, userID)
	if err != nil {
		return classify("set username", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("set username", err)
	}
	if n == 1 {
		return nil
	}
	// Nothing updated: either the user is gone or already has a name.
	if _, err := u.Get(ctx, userID); err != nil {
		return err
	}
	return model.NewValidationError("username", "username is already set")
}

func (u *users) Search(ctx context.Context, substring, excludeUserID string, limit int) ([]model.SearchedUser, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(strings.ToLower(substring)) + "%"
	out := []model.SearchedUser{}
	err := u.s.db.SelectContext(ctx, &out, u.s.db.Rebind(`
        SELECT id, username FROM users
        WHERE username IS NOT NULL AND id <> ? AND LOWER(username) LIKE ? ESCAPE '\'
        ORDER BY username
        LIMIT ?
    `), excludeUserID, pattern, limit)
	if err != nil {
		return nil, classify("search users", err)
	}
	return out, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"time"
)

// User is an account known to the platform. Authentication happens upstream.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	IsActive  bool      `json:"is_active"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const userColumns = "id, email, username, full_name, is_active, is_admin, created_at_ms, updated_at_ms"

func scanUser(row scanner) (User, error) {
	var (
		u                User
		created, updated int64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.FullName, &u.IsActive, &u.IsAdmin, &created, &updated); err != nil {
		return User{}, err
	}
	u.CreatedAt = fromMS(created)
	u.UpdatedAt = fromMS(updated)
	return u, nil
}

// CreateUser inserts u. Duplicate email or username yields ErrConflict.
func (s *Store) CreateUser(ctx context.Context, u User) (User, error) {
	now := toMS(s.now().UTC())
	res, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, username, full_name, is_active, is_admin, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.Email, u.Username, u.FullName, boolInt(u.IsActive), boolInt(u.IsAdmin), now, now)
	if err != nil {
		return User{}, mapErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, err
	}
	return s.GetUser(ctx, id)
}

func (s *Store) GetUser(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(s.DB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
	return u, mapErr(err)
}

func (s *Store) ListUsers(ctx context.Context, p Page) ([]User, error) {
	p = p.normalize()
	rows, err := s.DB.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY id LIMIT ? OFFSET ?", p.Limit, p.Skip)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpdateUser applies fn in a transaction. ID and CreatedAt are preserved.
func (s *Store) UpdateUser(ctx context.Context, id int64, fn func(*User) error) (User, error) {
	var out User
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		u, err := scanUser(tx.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
		if err != nil {
			return mapErr(err)
		}
		if err := fn(&u); err != nil {
			return err
		}
		u.ID = id
		u.UpdatedAt = s.now().UTC()
		_, err = tx.ExecContext(ctx, `UPDATE users SET email = ?, username = ?, full_name = ?, is_active = ?, is_admin = ?, updated_at_ms = ?
			WHERE id = ?`,
			u.Email, u.Username, u.FullName, boolInt(u.IsActive), boolInt(u.IsAdmin), toMS(u.UpdatedAt), id)
		if err != nil {
			return mapErr(err)
		}
		out = u
		return nil
	})
	return out, err
}

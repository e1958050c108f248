// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ManuGH/reelstream/internal/domain/media"
)

// Movie is a catalog entry together with its transcoding media record.
type Movie struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ReleaseYear int       `json:"release_year"`
	Duration    int       `json:"duration"`
	Genre       string    `json:"genre"`
	Director    string    `json:"director"`
	Cast        string    `json:"cast"`
	PosterURL   string    `json:"poster_url"`
	Rating      float64   `json:"rating"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Media media.Record `json:"-"`
}

const movieColumns = `id, title, description, release_year, duration_min, genre, director, cast_list,
	poster_url, rating, created_at_ms, updated_at_ms,
	source_url, streaming_url, job_handle, transcode_state, attempt, last_error, media_updated_at_ms`

func scanMovie(row scanner) (Movie, error) {
	var (
		m                Movie
		created, updated int64
		mediaUpdated     int64
		state            string
	)
	err := row.Scan(&m.ID, &m.Title, &m.Description, &m.ReleaseYear, &m.Duration, &m.Genre, &m.Director, &m.Cast,
		&m.PosterURL, &m.Rating, &created, &updated,
		&m.Media.SourceURL, &m.Media.StreamingURL, &m.Media.JobHandle, &state, &m.Media.Attempt, &m.Media.LastError, &mediaUpdated)
	if err != nil {
		return Movie{}, err
	}
	m.CreatedAt = fromMS(created)
	m.UpdatedAt = fromMS(updated)
	m.Media.MovieID = m.ID
	m.Media.State = media.State(state)
	m.Media.UpdatedAt = fromMS(mediaUpdated)
	return m, nil
}

// CreateMovie inserts a catalog entry. The media record always starts at
// NOT_STARTED regardless of what the caller passed.
func (s *Store) CreateMovie(ctx context.Context, m Movie) (Movie, error) {
	now := s.now().UTC()
	res, err := s.DB.ExecContext(ctx, `INSERT INTO movies (
		title, description, release_year, duration_min, genre, director, cast_list, poster_url, rating,
		created_at_ms, updated_at_ms, transcode_state, media_updated_at_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Title, m.Description, m.ReleaseYear, m.Duration, m.Genre, m.Director, m.Cast, m.PosterURL, m.Rating,
		toMS(now), toMS(now), string(media.StateNotStarted), toMS(now))
	if err != nil {
		return Movie{}, mapErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Movie{}, err
	}
	return s.GetMovie(ctx, id)
}

// GetMovie returns ErrNotFound for unknown ids.
func (s *Store) GetMovie(ctx context.Context, id int64) (Movie, error) {
	m, err := scanMovie(s.DB.QueryRowContext(ctx, "SELECT "+movieColumns+" FROM movies WHERE id = ?", id))
	return m, mapErr(err)
}

// ListMovies returns catalog entries ordered by id.
func (s *Store) ListMovies(ctx context.Context, p Page) ([]Movie, error) {
	p = p.normalize()
	rows, err := s.DB.QueryContext(ctx, "SELECT "+movieColumns+" FROM movies ORDER BY id LIMIT ? OFFSET ?", p.Limit, p.Skip)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Movie
	for rows.Next() {
		m, err := scanMovie(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMovie applies fn to the catalog fields of a movie. Media fields
// changed by fn are ignored: they belong to the transcoding lifecycle.
func (s *Store) UpdateMovie(ctx context.Context, id int64, fn func(*Movie) error) (Movie, error) {
	var out Movie
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		m, err := scanMovie(tx.QueryRowContext(ctx, "SELECT "+movieColumns+" FROM movies WHERE id = ?", id))
		if err != nil {
			return mapErr(err)
		}
		if err := fn(&m); err != nil {
			return err
		}
		m.UpdatedAt = s.now().UTC()
		_, err = tx.ExecContext(ctx, `UPDATE movies SET
			title = ?, description = ?, release_year = ?, duration_min = ?, genre = ?, director = ?,
			cast_list = ?, poster_url = ?, rating = ?, updated_at_ms = ?
			WHERE id = ?`,
			m.Title, m.Description, m.ReleaseYear, m.Duration, m.Genre, m.Director,
			m.Cast, m.PosterURL, m.Rating, toMS(m.UpdatedAt), id)
		if err != nil {
			return err
		}
		out, err = scanMovie(tx.QueryRowContext(ctx, "SELECT "+movieColumns+" FROM movies WHERE id = ?", id))
		return err
	})
	return out, err
}

// DeleteMovie removes the row and returns it so the caller can clean up
// stored objects.
func (s *Store) DeleteMovie(ctx context.Context, id int64) (Movie, error) {
	var out Movie
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		m, err := scanMovie(tx.QueryRowContext(ctx, "SELECT "+movieColumns+" FROM movies WHERE id = ?", id))
		if err != nil {
			return mapErr(err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM movies WHERE id = ?", id); err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// GetMedia implements media.Store.
func (s *Store) GetMedia(ctx context.Context, movieID int64) (media.Record, error) {
	m, err := s.GetMovie(ctx, movieID)
	if errors.Is(err, ErrNotFound) {
		return media.Record{}, media.ErrNotFound
	}
	if err != nil {
		return media.Record{}, err
	}
	return m.Media, nil
}

// UpdateMedia implements media.Store. fn runs inside the transaction on a
// copy of the current record; returning an error aborts without writing.
// If fn leaves the record unchanged nothing is written and UpdatedAt keeps
// its previous value.
func (s *Store) UpdateMedia(ctx context.Context, movieID int64, fn func(*media.Record) error) (media.Record, error) {
	var out media.Record
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		m, err := scanMovie(tx.QueryRowContext(ctx, "SELECT "+movieColumns+" FROM movies WHERE id = ?", movieID))
		if errors.Is(err, sql.ErrNoRows) {
			return media.ErrNotFound
		}
		if err != nil {
			return err
		}

		before := m.Media
		rec := before
		if err := fn(&rec); err != nil {
			return err
		}
		rec.MovieID = movieID
		if rec == before {
			out = before
			return nil
		}

		rec.UpdatedAt = s.now().UTC()
		_, err = tx.ExecContext(ctx, `UPDATE movies SET
			source_url = ?, streaming_url = ?, job_handle = ?, transcode_state = ?,
			attempt = ?, last_error = ?, media_updated_at_ms = ?
			WHERE id = ?`,
			rec.SourceURL, rec.StreamingURL, rec.JobHandle, string(rec.State),
			rec.Attempt, rec.LastError, toMS(rec.UpdatedAt), movieID)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

// ListInFlight implements media.Store: every record in QUEUED or PROCESSING.
func (s *Store) ListInFlight(ctx context.Context) ([]media.Record, error) {
	rows, err := s.DB.QueryContext(ctx, "SELECT "+movieColumns+" FROM movies WHERE transcode_state IN (?, ?) ORDER BY id",
		string(media.StateQueued), string(media.StateProcessing))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []media.Record
	for rows.Next() {
		m, err := scanMovie(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m.Media)
	}
	return out, rows.Err()
}

var _ media.Store = (*Store)(nil)

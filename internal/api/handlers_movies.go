// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/reelstream/internal/domain/media"
	xglog "github.com/ManuGH/reelstream/internal/log"
	"github.com/ManuGH/reelstream/internal/store"
)

// movieView is the public shape of a movie. The streaming address is
// only included for admins and only once the movie is playable; everyone
// else obtains it from the transcoding-status route after an access check.
type movieView struct {
	store.Movie
	SourceURL         string      `json:"source_url,omitempty"`
	TranscodingStatus media.State `json:"transcoding_status"`
	IsTranscoded      bool        `json:"is_transcoded"`
	StreamingURL      *string     `json:"streaming_url"`
	Attempt           int         `json:"transcode_attempt,omitempty"`
	LastError         string      `json:"transcode_error,omitempty"`
}

func viewMovie(m store.Movie, admin bool) movieView {
	v := movieView{
		Movie:             m,
		TranscodingStatus: m.Media.State,
		IsTranscoded:      m.Media.IsPlayable(),
	}
	if admin {
		v.SourceURL = m.Media.SourceURL
		v.Attempt = m.Media.Attempt
		v.LastError = m.Media.LastError
		if u := m.Media.PublicStreamingURL(); u != "" {
			v.StreamingURL = &u
		}
	}
	return v
}

type movieInput struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	ReleaseYear *int     `json:"release_year"`
	Duration    *int     `json:"duration"`
	Genre       *string  `json:"genre"`
	Director    *string  `json:"director"`
	Cast        *string  `json:"cast"`
	PosterURL   *string  `json:"poster_url"`
	Rating      *float64 `json:"rating"`
}

func (in movieInput) apply(m *store.Movie) error {
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if t == "" {
			return invalid("title must not be empty")
		}
		m.Title = t
	}
	if in.Description != nil {
		m.Description = *in.Description
	}
	if in.ReleaseYear != nil {
		if *in.ReleaseYear < 1870 || *in.ReleaseYear > time.Now().Year()+5 {
			return invalid("release_year %d out of range", *in.ReleaseYear)
		}
		m.ReleaseYear = *in.ReleaseYear
	}
	if in.Duration != nil {
		if *in.Duration < 0 {
			return invalid("duration must not be negative")
		}
		m.Duration = *in.Duration
	}
	if in.Genre != nil {
		m.Genre = *in.Genre
	}
	if in.Director != nil {
		m.Director = *in.Director
	}
	if in.Cast != nil {
		m.Cast = *in.Cast
	}
	if in.PosterURL != nil {
		m.PosterURL = *in.PosterURL
	}
	if in.Rating != nil {
		if *in.Rating < 0 || *in.Rating > 10 {
			return invalid("rating must be between 0 and 10")
		}
		m.Rating = *in.Rating
	}
	return nil
}

func (s *Server) handleListMovies(w http.ResponseWriter, r *http.Request) {
	p, err := page(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	movies, err := s.deps.Store.ListMovies(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	admin := isAdmin(r.Context())
	out := make([]movieView, 0, len(movies))
	for _, m := range movies {
		out = append(out, viewMovie(m, admin))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetMovie(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.deps.Store.GetMovie(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewMovie(m, isAdmin(r.Context())))
}

func (s *Server) handleCreateMovie(w http.ResponseWriter, r *http.Request) {
	var in movieInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if in.Title == nil {
		writeError(w, r, invalid("title is required"))
		return
	}
	var m store.Movie
	if err := in.apply(&m); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.deps.Store.CreateMovie(r.Context(), m)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger := xglog.WithContext(xglog.ContextWithMovieID(r.Context(), created.ID), s.logger)
	logger.Info().Str(xglog.FieldEvent, "movie.created").Str("title", created.Title).Msg("movie created")
	writeJSON(w, http.StatusCreated, viewMovie(created, true))
}

func (s *Server) handleUpdateMovie(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in movieInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.deps.Store.UpdateMovie(r.Context(), id, in.apply)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewMovie(m, true))
}

// handleDeleteMovie removes the row first, then every stored object of the
// movie: poster, source and all HLS output attempts. Storage failures are
// logged; the catalog entry is already gone.
func (s *Server) handleDeleteMovie(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.deps.Store.DeleteMovie(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx := context.WithoutCancel(xglog.ContextWithMovieID(r.Context(), id))
	logger := xglog.WithContext(ctx, s.logger)
	removed, err := s.deps.Objects.DeletePrefix(ctx, media.MoviePrefix(id))
	if err != nil {
		logger.Warn().Err(err).Str(xglog.FieldPrefix, media.MoviePrefix(id)).Msg("failed to delete stored objects")
	}
	if m.PosterURL != "" {
		if ok, err := s.deps.Objects.Delete(ctx, m.PosterURL); err != nil {
			logger.Warn().Err(err).Msg("failed to delete poster")
		} else if ok {
			removed++
		}
	}
	logger.Info().Str(xglog.FieldEvent, "movie.deleted").Int("objects_removed", removed).Msg("movie deleted")

	writeJSON(w, http.StatusOK, struct {
		movieView
		ObjectsRemoved int `json:"objects_removed"`
	}{viewMovie(m, true), removed})
}

func (s *Server) handleTranscodingStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.deps.Store.GetMovie(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	u, _ := principal(r.Context())
	d, err := s.deps.Membership.Evaluate(r.Context(), u.ID, u.IsAdmin, m)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := struct {
		MovieID              int64       `json:"movie_id"`
		TranscodingStatus    media.State `json:"transcoding_status"`
		IsTranscoded         bool        `json:"is_transcoded"`
		StreamingURL         *string     `json:"streaming_url"`
		HasAccess            bool        `json:"has_access"`
		RequiresSubscription bool        `json:"requires_subscription"`
		Reason               string      `json:"reason"`
	}{
		MovieID:              m.ID,
		TranscodingStatus:    m.Media.State,
		IsTranscoded:         m.Media.IsPlayable(),
		HasAccess:            d.Granted,
		RequiresSubscription: !d.Granted,
		Reason:               string(d.Reason),
	}
	if d.StreamingURL != "" {
		resp.StreamingURL = &d.StreamingURL
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRetryTranscode queues another dispatch for a movie whose previous
// attempt failed, or that never started.
func (s *Server) handleRetryTranscode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := s.deps.Lifecycle.Enqueue(xglog.ContextWithMovieID(r.Context(), id), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"movie_id":           id,
		"transcoding_status": rec.State,
		"next_attempt":       rec.Attempt + 1,
		"message":            "Transcoding queued.",
	})
}

// filePart returns the "file" part of a multipart upload without
// buffering the body.
func (s *Server) filePart(w http.ResponseWriter, r *http.Request) (*multipart.Part, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, badRequest("expected multipart/form-data: %v", err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, badRequest("multipart field \"file\" is missing")
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, err
			}
			return nil, badRequest("malformed multipart body: %v", err)
		}
		if part.FormName() == "file" && part.FileName() != "" {
			return part, nil
		}
		_ = part.Close()
	}
}

var posterTypes = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true}

// posterKey places posters under the movie prefix so deleting the movie
// removes them.
func posterKey(movieID int64, filename string) (string, error) {
	ext := strings.ToLower(path.Ext(filename))
	if !posterTypes[ext] {
		return "", invalid("unsupported poster type %q", ext)
	}
	return fmt.Sprintf("%sposter/%s%s", media.MoviePrefix(movieID), uuid.NewString(), ext), nil
}

func (s *Server) handleUploadPoster(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.deps.Store.GetMovie(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	part, err := s.filePart(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer func() { _ = part.Close() }()

	key, err := posterKey(id, part.FileName())
	if err != nil {
		writeError(w, r, err)
		return
	}
	url, err := s.deps.Objects.Put(r.Context(), key, part)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var previous string
	_, err = s.deps.Store.UpdateMovie(r.Context(), id, func(m *store.Movie) error {
		previous = m.PosterURL
		m.PosterURL = url
		return nil
	})
	ctx := context.WithoutCancel(xglog.ContextWithMovieID(r.Context(), id))
	logger := xglog.WithContext(ctx, s.logger)
	if err != nil {
		if _, derr := s.deps.Objects.Delete(ctx, url); derr != nil {
			logger.Warn().Err(derr).Msg("failed to remove orphaned poster")
		}
		writeError(w, r, err)
		return
	}
	if previous != "" && previous != url {
		if _, err := s.deps.Objects.Delete(ctx, previous); err != nil {
			logger.Warn().Err(err).Msg("failed to delete replaced poster")
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"poster_url": url})
}

// handleUploadVideo stores the original and queues the first transcode.
func (s *Server) handleUploadVideo(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx := xglog.ContextWithMovieID(r.Context(), id)
	m, err := s.deps.Store.GetMovie(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if m.Media.SourceURL != "" {
		writeError(w, r, media.ErrSourceImmutable)
		return
	}
	part, err := s.filePart(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer func() { _ = part.Close() }()

	rec, err := s.deps.Lifecycle.Upload(ctx, id, part.FileName(), part)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"movie_id":           id,
		"video_url":          rec.SourceURL,
		"transcoding_status": rec.State,
		"message":            "Video uploaded successfully. Transcoding has been queued.",
	})
}

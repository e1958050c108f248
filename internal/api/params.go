// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/reelstream/internal/store"
)

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return v, nil
}

func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, badRequest("invalid %s %q", name, raw)
	}
	return v, nil
}

// page reads skip/limit. Out-of-range limits are clamped by the store.
func page(r *http.Request) (store.Page, error) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		return store.Page{}, err
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		return store.Page{}, err
	}
	if skip < 0 {
		return store.Page{}, badRequest("skip must not be negative")
	}
	return store.Page{Skip: skip, Limit: limit}, nil
}

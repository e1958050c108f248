// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/reelstream/internal/config"
	"github.com/ManuGH/reelstream/internal/domain/media"
	"github.com/ManuGH/reelstream/internal/lifecycle"
	"github.com/ManuGH/reelstream/internal/membership"
	"github.com/ManuGH/reelstream/internal/notify"
	"github.com/ManuGH/reelstream/internal/payment"
	"github.com/ManuGH/reelstream/internal/queue"
	"github.com/ManuGH/reelstream/internal/storage"
	"github.com/ManuGH/reelstream/internal/store"
)

const (
	mediaBase     = "http://media.test/media"
	gatewaySecret = "test-secret"
)

type nopDispatcher struct{}

func (nopDispatcher) Submit(context.Context, string, string) (media.Submission, error) {
	return media.Submission{JobHandle: "job-1", InitialStatus: "QUEUED"}, nil
}

type nopOracle struct{}

func (nopOracle) Status(context.Context, string) (string, error) { return "PROCESSING", nil }

type fakeGateway struct {
	mu     sync.Mutex
	orders int
}

func (g *fakeGateway) CreateOrder(_ context.Context, req payment.OrderRequest) (payment.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders++
	return payment.Order{ID: "order_" + strconv.Itoa(g.orders), Amount: req.Amount, Currency: req.Currency}, nil
}

func (g *fakeGateway) VerifySignature(orderID, paymentID, signature string) bool {
	return payment.VerifySignature(gatewaySecret, orderID, paymentID, signature)
}

func (g *fakeGateway) FetchDetails(context.Context, string) (payment.Details, error) {
	return payment.Details{Method: "upi"}, nil
}

func (g *fakeGateway) Refund(_ context.Context, id string, _ int64) (payment.Refund, error) {
	return payment.Refund{ID: "rfnd_" + id, Status: "processed"}, nil
}

type recordingPoster struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (p *recordingPoster) Post(m notify.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, m)
	return true
}

func (p *recordingPoster) templates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.sent))
	for _, m := range p.sent {
		out = append(out, m.Template)
	}
	return out
}

type harness struct {
	t       *testing.T
	srv     *Server
	store   *store.Store
	objects *storage.FS
	queue   *queue.Memory
	mail    *recordingPoster
	admin   store.User
	user    store.User
}

func newHarness(t *testing.T, mutate ...func(*config.APIConfig)) *harness {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	objects, err := storage.New(t.TempDir(), mediaBase)
	require.NoError(t, err)

	q := queue.NewMemory(8)
	t.Cleanup(func() { _ = q.Close() })

	ctrl := lifecycle.NewController(lifecycle.Deps{
		Store:      st,
		Storage:    objects,
		Dispatcher: nopDispatcher{},
		Oracle:     nopOracle{},
		Queue:      q,
	})
	mail := &recordingPoster{}
	pay, err := payment.NewService(st, &fakeGateway{}, mail, payment.Config{KeyID: "rzp_test"}, nil)
	require.NoError(t, err)

	cfg := config.Defaults().API
	cfg.RateLimit.Enabled = false
	for _, m := range mutate {
		m(&cfg)
	}

	h := &harness{t: t, store: st, objects: objects, queue: q, mail: mail}
	h.srv = New(Deps{
		Store:      st,
		Lifecycle:  ctrl,
		Membership: membership.NewService(st, nil),
		Payments:   pay,
		Objects:    objects,
		Mail:       mail,
		Config:     cfg,
		Version:    "test",
	})

	h.admin, err = st.CreateUser(ctx, store.User{Email: "admin@example.com", Username: "admin", IsActive: true, IsAdmin: true})
	require.NoError(t, err)
	h.user, err = st.CreateUser(ctx, store.User{Email: "viewer@example.com", Username: "viewer", IsActive: true})
	require.NoError(t, err)
	return h
}

func (h *harness) do(method, path string, as *store.User, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(h.t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set(HeaderUserID, strconv.FormatInt(as.ID, 10))
	}
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	return rec
}

func (h *harness) upload(path string, as *store.User, filename string, content []byte) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(h.t, err)
	_, err = fw.Write(content)
	require.NoError(h.t, err)
	require.NoError(h.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(HeaderUserID, strconv.FormatInt(as.ID, 10))
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (h *harness) createMovie(title string) int64 {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/api/v1/movies", &h.admin, map[string]any{"title": title, "release_year": 2001})
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	return int64(decode[map[string]any](h.t, rec)["id"].(float64))
}

func (h *harness) markPlayable(id int64) string {
	h.t.Helper()
	manifest := mediaBase + "/movies/" + strconv.FormatInt(id, 10) + "/hls/1/index.m3u8"
	_, err := h.store.UpdateMedia(context.Background(), id, func(r *media.Record) error {
		r.SourceURL = mediaBase + "/src.mp4"
		r.JobHandle = "job-1"
		r.Attempt = 1
		r.State = media.StateComplete
		r.StreamingURL = manifest
		return nil
	})
	require.NoError(h.t, err)
	return manifest
}

func TestHealthAndReady(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", decode[map[string]any](t, rec)["version"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = h.do(http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthorization(t *testing.T) {
	h := newHarness(t)
	ghost := store.User{ID: 999}

	tests := []struct {
		name   string
		as     *store.User
		header string
		want   int
		code   string
	}{
		{name: "anonymous", want: http.StatusUnauthorized, code: "unauthorized"},
		{name: "malformed header", header: "abc", want: http.StatusUnauthorized, code: "unauthorized"},
		{name: "unknown user", as: &ghost, want: http.StatusUnauthorized, code: "unauthorized"},
		{name: "regular user", as: &h.user, want: http.StatusForbidden, code: "forbidden"},
		{name: "admin", as: &h.admin, want: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
			if tc.as != nil {
				req.Header.Set(HeaderUserID, strconv.FormatInt(tc.as.ID, 10))
			}
			if tc.header != "" {
				req.Header.Set(HeaderUserID, tc.header)
			}
			rec := httptest.NewRecorder()
			h.srv.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
			if tc.code != "" {
				assert.Equal(t, tc.code, decode[errorResponse](t, rec).Error)
			}
		})
	}
}

func TestUsers_SelfServiceAndDeactivation(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/v1/users", nil, map[string]any{"email": "New@Example.com", "username": "newbie", "is_admin": true})
	assert.Equal(t, http.StatusForbidden, rec.Code, "anonymous callers cannot mint admins")

	rec = h.do(http.MethodPost, "/api/v1/users", nil, map[string]any{"email": "New@Example.com", "username": "newbie"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[store.User](t, rec)
	assert.Equal(t, "new@example.com", created.Email)
	assert.True(t, created.IsActive)
	assert.Equal(t, []string{"welcome"}, h.mail.templates())

	rec = h.do(http.MethodPost, "/api/v1/users", nil, map[string]any{"email": "new@example.com", "username": "other"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	path := "/api/v1/users/" + strconv.FormatInt(h.admin.ID, 10)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, path, &h.user, nil).Code)

	self := "/api/v1/users/" + strconv.FormatInt(h.user.ID, 10)
	rec = h.do(http.MethodPut, self, &h.user, map[string]any{"full_name": "Vera Viewer"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Vera Viewer", decode[store.User](t, rec).FullName)

	rec = h.do(http.MethodDelete, self, &h.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[store.User](t, rec).IsActive)

	rec = h.do(http.MethodGet, "/api/v1/users/me", &h.user, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "inactive_user", decode[errorResponse](t, rec).Error)
}

func TestMovies_CRUD(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/v1/movies", &h.admin, map[string]any{"description": "no title"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = h.do(http.MethodPost, "/api/v1/movies", &h.admin, map[string]any{"title": "Heat", "runtime": 170})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")

	id := h.createMovie("Heat")
	path := "/api/v1/movies/" + strconv.FormatInt(id, 10)

	rec = h.do(http.MethodPut, path, &h.admin, map[string]any{"director": "Michael Mann", "rating": 8.3})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, "Michael Mann", got["director"])
	assert.Equal(t, string(media.StateNotStarted), got["transcoding_status"])
	assert.Nil(t, got["streaming_url"])
	assert.NotContains(t, got, "source_url")

	rec = h.do(http.MethodGet, "/api/v1/movies?limit=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/movies/424242", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/v1/movies/abc", nil, nil).Code)
}

func TestMovies_PlayableURLOnlyForAdmins(t *testing.T) {
	h := newHarness(t)
	id := h.createMovie("Alien")
	manifest := h.markPlayable(id)
	path := "/api/v1/movies/" + strconv.FormatInt(id, 10)

	assert.Nil(t, decode[map[string]any](t, h.do(http.MethodGet, path, &h.user, nil))["streaming_url"])
	assert.Equal(t, manifest, decode[map[string]any](t, h.do(http.MethodGet, path, &h.admin, nil))["streaming_url"])
}

func TestUploadVideo_StoresSourceAndQueuesDispatch(t *testing.T) {
	h := newHarness(t)
	id := h.createMovie("Up")
	path := "/api/v1/movies/" + strconv.FormatInt(id, 10) + "/upload-video"

	rec := h.upload(path, &h.admin, "trailer.mp4", []byte("fake video"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Contains(t, body["video_url"], mediaBase+"/movies/"+strconv.FormatInt(id, 10)+"/video/")
	assert.Equal(t, 1, h.queue.Len())

	rec = h.upload(path, &h.admin, "again.mp4", []byte("second"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "source_exists", decode[errorResponse](t, rec).Error)

	assert.Equal(t, http.StatusForbidden, h.upload(path, &h.user, "x.mp4", []byte("x")).Code)
}

func TestUploadPoster_ReplacesPrevious(t *testing.T) {
	h := newHarness(t)
	id := h.createMovie("Poster")
	path := "/api/v1/movies/" + strconv.FormatInt(id, 10) + "/upload-poster"

	rec := h.upload(path, &h.admin, "a.png", []byte("png-1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[map[string]string](t, rec)["poster_url"]

	rec = h.upload(path, &h.admin, "b.jpg", []byte("jpg-2"))
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[map[string]string](t, rec)["poster_url"]
	assert.NotEqual(t, first, second)

	objs, err := h.objects.List(context.Background(), media.MoviePrefix(id))
	require.NoError(t, err)
	assert.Equal(t, []string{second}, objs)

	rec = h.upload(path, &h.admin, "c.exe", []byte("nope"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUpload_TooLarge(t *testing.T) {
	h := newHarness(t, func(c *config.APIConfig) { c.MaxUploadMB = 1 })
	id := h.createMovie("Big")
	path := "/api/v1/movies/" + strconv.FormatInt(id, 10) + "/upload-poster"

	rec := h.upload(path, &h.admin, "big.png", bytes.Repeat([]byte("x"), 2<<20))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
}

func TestDeleteMovie_RemovesStoredObjects(t *testing.T) {
	h := newHarness(t)
	id := h.createMovie("Gone")
	base := "/api/v1/movies/" + strconv.FormatInt(id, 10)

	require.Equal(t, http.StatusOK, h.upload(base+"/upload-poster", &h.admin, "p.png", []byte("p")).Code)
	require.Equal(t, http.StatusAccepted, h.upload(base+"/upload-video", &h.admin, "v.mp4", []byte("v")).Code)
	_, err := h.objects.Put(context.Background(), media.OutputPrefix(id, 1)+"index.m3u8", bytes.NewReader([]byte("#EXTM3U")))
	require.NoError(t, err)

	rec := h.do(http.MethodDelete, base, &h.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, decode[map[string]any](t, rec)["objects_removed"])

	objs, err := h.objects.List(context.Background(), media.MoviePrefix(id))
	require.NoError(t, err)
	assert.Empty(t, objs)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, base, nil, nil).Code)
}

func TestTranscodingStatus_GatesStreamingURL(t *testing.T) {
	h := newHarness(t)
	id := h.createMovie("Gated")
	manifest := h.markPlayable(id)
	path := "/api/v1/movies/" + strconv.FormatInt(id, 10) + "/transcoding-status"

	type status struct {
		TranscodingStatus    string  `json:"transcoding_status"`
		IsTranscoded         bool    `json:"is_transcoded"`
		StreamingURL         *string `json:"streaming_url"`
		HasAccess            bool    `json:"has_access"`
		RequiresSubscription bool    `json:"requires_subscription"`
	}

	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, path, nil, nil).Code)

	got := decode[status](t, h.do(http.MethodGet, path, &h.user, nil))
	assert.Equal(t, "COMPLETE", got.TranscodingStatus)
	assert.True(t, got.IsTranscoded)
	assert.False(t, got.HasAccess)
	assert.True(t, got.RequiresSubscription)
	assert.Nil(t, got.StreamingURL)

	plan := decode[map[string]any](t, h.do(http.MethodPost, "/api/v1/plans", &h.admin,
		map[string]any{"name": "Monthly", "price": 299, "duration_days": 30}))
	rec := h.do(http.MethodPost, "/api/v1/subscriptions", &h.user, map[string]any{"plan_id": plan["id"]})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	got = decode[status](t, h.do(http.MethodGet, path, &h.user, nil))
	assert.True(t, got.HasAccess)
	require.NotNil(t, got.StreamingURL)
	assert.Equal(t, manifest, *got.StreamingURL)

	got = decode[status](t, h.do(http.MethodGet, path, &h.admin, nil))
	assert.True(t, got.HasAccess)
}

func TestRetryTranscode(t *testing.T) {
	h := newHarness(t)
	id := h.createMovie("Retry")
	path := "/api/v1/movies/" + strconv.FormatInt(id, 10) + "/transcode"

	rec := h.do(http.MethodPost, path, &h.admin, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "no_source", decode[errorResponse](t, rec).Error)

	_, err := h.store.UpdateMedia(context.Background(), id, func(r *media.Record) error {
		r.SourceURL = mediaBase + "/movies/1/video/a.mp4"
		r.State = media.StateError
		r.Attempt = 1
		return nil
	})
	require.NoError(t, err)

	rec = h.do(http.MethodPost, path, &h.admin, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, decode[map[string]any](t, rec)["next_attempt"])
	assert.Equal(t, 1, h.queue.Len())

	_, err = h.store.UpdateMedia(context.Background(), id, func(r *media.Record) error {
		r.State = media.StateProcessing
		r.JobHandle = "job-2"
		return nil
	})
	require.NoError(t, err)
	rec = h.do(http.MethodPost, path, &h.admin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "transcode_in_progress", decode[errorResponse](t, rec).Error)
}

func TestPlansAndSubscriptions(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/v1/plans", &h.admin, map[string]any{"name": "Day", "price": 19, "duration_days": 0})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = h.do(http.MethodPost, "/api/v1/plans", &h.admin, map[string]any{"name": "Day", "price": 19, "duration_days": 1})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	planID := decode[map[string]any](t, rec)["id"]
	planPath := "/api/v1/plans/" + strconv.FormatInt(int64(planID.(float64)), 10)

	rec = h.do(http.MethodPost, "/api/v1/subscriptions", &h.user, map[string]any{"plan_id": planID, "auto_renew": true})
	require.Equal(t, http.StatusCreated, rec.Code)
	subID := int64(decode[map[string]any](t, rec)["id"].(float64))

	me := decode[membership.Status](t, h.do(http.MethodGet, "/api/v1/subscriptions/me", &h.user, nil))
	assert.True(t, me.Active)
	assert.Zero(t, me.DaysRemaining, "partial days are truncated")

	access := decode[membership.AccessStatus](t, h.do(http.MethodGet, "/api/v1/subscriptions/check-access", &h.user, nil))
	assert.True(t, access.HasAccess)
	require.NotNil(t, access.HoursRemaining)
	assert.Equal(t, 23, *access.HoursRemaining)

	rec = h.do(http.MethodPut, "/api/v1/subscriptions/"+strconv.FormatInt(subID, 10), &h.user, map[string]any{"auto_renew": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode[map[string]any](t, rec)["auto_renew"])

	rec = h.do(http.MethodDelete, planPath, &h.admin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "plan_in_use", decode[errorResponse](t, rec).Error)

	rec = h.do(http.MethodGet, "/api/v1/subscriptions?status=active", &h.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/v1/subscriptions?status=weird", &h.admin, nil).Code)

	subPath := "/api/v1/subscriptions/" + strconv.FormatInt(subID, 10)
	rec = h.do(http.MethodPost, subPath+"/cancel", &h.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode[map[string]any](t, rec)["is_active"])

	rec = h.do(http.MethodPost, subPath+"/extend", &h.admin, map[string]any{"days": 0})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = h.do(http.MethodPost, subPath+"/extend", &h.admin, map[string]any{"days": 7})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["is_active"])

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, subPath+"/cancel", &h.admin, nil).Code)
	assert.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, planPath, &h.admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, planPath, &h.user, nil).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, planPath, &h.admin, nil).Code)
}

func TestPayments_OrderVerifyReceiptRefund(t *testing.T) {
	h := newHarness(t)

	plan := decode[map[string]any](t, h.do(http.MethodPost, "/api/v1/plans", &h.admin,
		map[string]any{"name": "Monthly", "price": 299, "duration_days": 30}))
	sub := decode[map[string]any](t, h.do(http.MethodPost, "/api/v1/subscriptions", &h.user, map[string]any{"plan_id": plan["id"]}))

	rec := h.do(http.MethodPost, "/api/v1/payments/orders", &h.user, map[string]any{"subscription_id": sub["id"]})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decode[payment.OrderResponse](t, rec)
	assert.EqualValues(t, 29900, order.AmountMinor)
	assert.Equal(t, "rzp_test", order.Key)

	bad := payment.Verification{OrderID: order.OrderID, PaymentID: "pay_1", Signature: "deadbeef"}
	rec = h.do(http.MethodPost, "/api/v1/payments/verify", &h.user, bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_signature", decode[errorResponse](t, rec).Error)

	// a failed payment is settled; a fresh order is needed
	rec = h.do(http.MethodPost, "/api/v1/payments/orders", &h.user, map[string]any{"subscription_id": sub["id"]})
	require.Equal(t, http.StatusCreated, rec.Code)
	order = decode[payment.OrderResponse](t, rec)

	good := payment.Verification{
		OrderID:   order.OrderID,
		PaymentID: "pay_2",
		Signature: payment.Sign(gatewaySecret, order.OrderID, "pay_2"),
	}
	rec = h.do(http.MethodPost, "/api/v1/payments/verify", &h.user, good)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decode[store.Payment](t, rec)
	assert.Equal(t, store.PaymentSuccessful, paid.Status)

	mine := decode[[]store.Payment](t, h.do(http.MethodGet, "/api/v1/payments/me?status=successful", &h.user, nil))
	require.Len(t, mine, 1)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/v1/payments/me?status=lost", &h.user, nil).Code)

	receiptPath := "/api/v1/payments/" + strconv.FormatInt(paid.ID, 10) + "/receipt"
	rec = h.do(http.MethodGet, receiptPath, &h.user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pay_2", decode[payment.Receipt](t, rec).TransactionID)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, receiptPath, &h.admin, nil).Code)

	all := decode[[]store.Payment](t, h.do(http.MethodGet, "/api/v1/payments?user_id="+strconv.FormatInt(h.user.ID, 10), &h.admin, nil))
	assert.Len(t, all, 2)

	refundPath := "/api/v1/payments/" + strconv.FormatInt(paid.ID, 10) + "/refund"
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, refundPath, &h.user, nil).Code)
	rec = h.do(http.MethodPost, refundPath, &h.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, store.PaymentRefunded, decode[store.Payment](t, rec).Status)

	rec = h.do(http.MethodPost, refundPath, &h.admin, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	assert.Equal(t, []string{"payment_failure", "payment_success", "payment_refund"}, h.mail.templates())
}

func TestMediaIsServed(t *testing.T) {
	h := newHarness(t)
	_, err := h.objects.Put(context.Background(), "movies/1/hls/1/index.m3u8", bytes.NewReader([]byte("#EXTM3U\n")))
	require.NoError(t, err)

	rec := h.do(http.MethodGet, "/media/movies/1/hls/1/index.m3u8", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "#EXTM3U\n", rec.Body.String())
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/media/movies/1/", nil, nil).Code)
}

func TestApplyConfig_RebuildsRateLimit(t *testing.T) {
	h := newHarness(t)
	hit := func() int {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "198.51.100.7:1234"
		rec := httptest.NewRecorder()
		h.srv.ServeHTTP(rec, req)
		return rec.Code
	}
	for range 3 {
		require.Equal(t, http.StatusOK, hit())
	}

	cfg := config.Defaults().API
	cfg.RateLimit.RequestsPerMinute = 1
	h.srv.ApplyConfig(cfg)
	assert.Equal(t, http.StatusOK, hit())
	assert.Equal(t, http.StatusTooManyRequests, hit())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{store.ErrNotFound, http.StatusNotFound, "not_found"},
		{media.ErrAlreadyComplete, http.StatusConflict, "transcode_finished"},
		{&media.DispatchError{MovieID: 1, Kind: media.DispatchTransient, Err: context.DeadlineExceeded}, http.StatusServiceUnavailable, "dispatch_unavailable"},
		{&media.DispatchError{MovieID: 1, Kind: media.DispatchPermanent, Err: io.ErrUnexpectedEOF}, http.StatusUnprocessableEntity, "dispatch_rejected"},
		{queue.ErrFull, http.StatusServiceUnavailable, "queue_full"},
		{payment.ErrGateway, http.StatusServiceUnavailable, "gateway_unavailable"},
		{io.ErrClosedPipe, http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range tests {
		status, code, _ := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}

	_, _, detail := classify(io.ErrClosedPipe)
	assert.NotContains(t, detail, "closed pipe")
}

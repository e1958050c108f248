// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/reelstream/internal/domain/media"
)

const src = storageBase + "movies/1/video/orig.mp4"

func notStarted(id int64) media.Record {
	return media.Record{MovieID: id, SourceURL: src, State: media.StateNotStarted}
}

func TestDispatch_RecordsJob(t *testing.T) {
	h := newHarness(notStarted(1))
	h.dispatcher.next = accept("job-1", "SUBMITTED")

	rec, err := h.ctrl.Dispatch(context.Background(), 1, "")
	require.NoError(t, err)

	assert.Equal(t, media.StateQueued, rec.State)
	assert.Equal(t, "job-1", rec.JobHandle)
	assert.Equal(t, 1, rec.Attempt)
	assert.Equal(t, storageBase+"movies/1/hls/1/index.m3u8", rec.StreamingURL)
	assert.Empty(t, rec.PublicStreamingURL(), "predicted address is hidden until complete")
	require.Len(t, h.dispatcher.calls, 1)
	assert.Equal(t, submitCall{source: src, prefix: "movies/1/hls/1/"}, h.dispatcher.calls[0])
}

func TestDispatch_InitialProcessing(t *testing.T) {
	h := newHarness(notStarted(1))
	h.dispatcher.next = accept("job-1", "PROGRESSING")

	rec, err := h.ctrl.Dispatch(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Equal(t, media.StateProcessing, rec.State)
}

func TestDispatch_RejectsInFlightAndComplete(t *testing.T) {
	cases := []struct {
		state media.State
		want  error
	}{
		{media.StateQueued, media.ErrAlreadyInProgress},
		{media.StateProcessing, media.ErrAlreadyInProgress},
		{media.StateComplete, media.ErrAlreadyComplete},
		{media.StateCanceled, media.ErrAlreadyComplete},
	}
	for _, tc := range cases {
		t.Run(string(tc.state), func(t *testing.T) {
			rec := notStarted(1)
			rec.State = tc.state
			rec.JobHandle = "job-0"
			h := newHarness(rec)
			h.dispatcher.next = accept("job-1", "SUBMITTED")

			_, err := h.ctrl.Dispatch(context.Background(), 1, "")
			require.ErrorIs(t, err, tc.want)
			assert.Zero(t, h.dispatcher.callCount())
			assert.Equal(t, rec, h.store.get(1))
		})
	}
}

func TestDispatch_NoSource(t *testing.T) {
	h := newHarness(media.Record{MovieID: 1, State: media.StateNotStarted})
	_, err := h.ctrl.Dispatch(context.Background(), 1, "")
	require.ErrorIs(t, err, media.ErrNoSource)
	assert.Zero(t, h.dispatcher.callCount())
}

func TestDispatch_SourceMismatch(t *testing.T) {
	h := newHarness(notStarted(1))
	_, err := h.ctrl.Dispatch(context.Background(), 1, storageBase+"other.mp4")
	require.ErrorIs(t, err, media.ErrSourceImmutable)
}

func TestDispatch_UnknownMovie(t *testing.T) {
	h := newHarness()
	_, err := h.ctrl.Dispatch(context.Background(), 42, src)
	require.ErrorIs(t, err, media.ErrNotFound)
}

func TestDispatch_TransientFailureThenRetry(t *testing.T) {
	h := newHarness(notStarted(1))
	h.dispatcher.next = func(submitCall) (media.Submission, error) {
		return media.Submission{}, errors.New("connection refused")
	}

	rec, err := h.ctrl.Dispatch(context.Background(), 1, "")
	require.Error(t, err)
	var derr *media.DispatchError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, media.DispatchTransient, derr.Kind)
	assert.ErrorIs(t, err, media.ErrTransient)

	assert.Equal(t, media.StateError, rec.State)
	assert.Empty(t, rec.JobHandle)
	assert.Contains(t, rec.LastError, "connection refused")
	assert.Equal(t, rec, h.store.get(1))

	h.dispatcher.next = accept("job-2", "SUBMITTED")
	rec, err = h.ctrl.Dispatch(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Equal(t, media.StateQueued, rec.State)
	assert.Equal(t, "job-2", rec.JobHandle)
	assert.Equal(t, 2, rec.Attempt)
	assert.Empty(t, rec.LastError)
	assert.Equal(t, "movies/1/hls/2/", h.dispatcher.calls[1].prefix, "retry writes to a fresh prefix")
}

func TestDispatch_PermanentFailure(t *testing.T) {
	h := newHarness(notStarted(1))
	h.dispatcher.next = func(submitCall) (media.Submission, error) {
		return media.Submission{}, errors.Join(media.ErrPermanent, errors.New("unsupported codec"))
	}

	rec, err := h.ctrl.Dispatch(context.Background(), 1, "")
	require.ErrorIs(t, err, media.ErrPermanent)
	assert.Equal(t, media.StateError, rec.State)
}

func TestDispatch_UnknownInitialStatusIsError(t *testing.T) {
	h := newHarness(notStarted(1))
	h.dispatcher.next = accept("job-1", "WARMING_UP")

	rec, err := h.ctrl.Dispatch(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Equal(t, media.StateError, rec.State)
	assert.Equal(t, "job-1", rec.JobHandle)
}

func TestDispatch_CanceledCallerStillPersists(t *testing.T) {
	h := newHarness(notStarted(1))
	ctx, cancel := context.WithCancel(context.Background())
	h.dispatcher.next = func(c submitCall) (media.Submission, error) {
		cancel()
		return accept("job-1", "SUBMITTED")(c)
	}

	_, err := h.ctrl.Dispatch(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, "job-1", h.store.get(1).JobHandle)
}

func TestEnqueue(t *testing.T) {
	h := newHarness(notStarted(1))
	_, err := h.ctrl.Enqueue(context.Background(), 1)
	require.NoError(t, err)

	require.Equal(t, 1, h.queue.Len())
	task, err := h.queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), task.MovieID)
	assert.Equal(t, src, task.SourceURL)
	assert.Equal(t, media.StateNotStarted, h.store.get(1).State, "enqueue does not transition")
}

func TestEnqueue_Rejections(t *testing.T) {
	inflight := notStarted(1)
	inflight.State = media.StateProcessing
	h := newHarness(inflight, media.Record{MovieID: 2, State: media.StateNotStarted})

	_, err := h.ctrl.Enqueue(context.Background(), 1)
	require.ErrorIs(t, err, media.ErrAlreadyInProgress)
	_, err = h.ctrl.Enqueue(context.Background(), 2)
	require.ErrorIs(t, err, media.ErrNoSource)
	assert.Zero(t, h.queue.Len())
}

func TestUpload_StoresSourceAndQueues(t *testing.T) {
	h := newHarness(media.Record{MovieID: 7, State: media.StateNotStarted})

	_, err := h.ctrl.Upload(context.Background(), 7, "Trailer.MP4", strings.NewReader("bytes"))
	require.NoError(t, err)

	rec := h.store.get(7)
	require.NotEmpty(t, rec.SourceURL)
	assert.True(t, strings.HasPrefix(rec.SourceURL, storageBase+"movies/7/video/"))
	assert.True(t, strings.HasSuffix(rec.SourceURL, ".mp4"))
	assert.Equal(t, 1, h.queue.Len())

	_, err = h.ctrl.Upload(context.Background(), 7, "again.mp4", strings.NewReader("x"))
	require.ErrorIs(t, err, media.ErrSourceImmutable)
	assert.Len(t, h.storage.objects, 1)
}

func TestSourceKey(t *testing.T) {
	k := SourceKey(3, "../../etc/passwd")
	assert.True(t, strings.HasPrefix(k, "movies/3/video/"))
	assert.True(t, strings.HasSuffix(k, ".bin"))
	assert.NotContains(t, k, "..")
}

func inFlight(id int64, state media.State, handle string) media.Record {
	return media.Record{
		MovieID:      id,
		SourceURL:    src,
		State:        state,
		JobHandle:    handle,
		Attempt:      1,
		StreamingURL: storageBase + media.OutputPrefix(id, 1) + "index.m3u8",
	}
}

func TestReconcileOne_CompleteResolvesIndexManifest(t *testing.T) {
	h := newHarness(inFlight(1, media.StateProcessing, "job-1"))
	h.storage = newMemStorage("movies/1/hls/1/a_720p.m3u8", "movies/1/hls/1/index.m3u8", "movies/1/hls/1/seg_000.ts")
	h.ctrl.storage = h.storage
	h.oracle.set("job-1", "COMPLETE")

	changed, err := h.ctrl.ReconcileOne(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, changed)

	rec := h.store.get(1)
	assert.Equal(t, media.StateComplete, rec.State)
	assert.Equal(t, storageBase+"movies/1/hls/1/index.m3u8", rec.PublicStreamingURL())
}

func TestReconcileOne_ManifestMissingKeepsPrediction(t *testing.T) {
	start := inFlight(1, media.StateProcessing, "job-1")
	h := newHarness(start)
	h.oracle.set("job-1", "COMPLETE")

	changed, err := h.ctrl.ReconcileOne(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, changed)

	rec := h.store.get(1)
	assert.Equal(t, media.StateComplete, rec.State)
	assert.Equal(t, start.StreamingURL, rec.StreamingURL)
	assert.True(t, rec.IsPlayable())
}

func TestReconcileOne_NoWriteWhenUnchanged(t *testing.T) {
	h := newHarness(inFlight(1, media.StateProcessing, "job-1"))
	h.oracle.set("job-1", "PROGRESSING")

	changed, err := h.ctrl.ReconcileOne(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Zero(t, h.store.writeCount())
}

func TestReconcileOne_IgnoresRegression(t *testing.T) {
	h := newHarness(inFlight(1, media.StateProcessing, "job-1"))
	h.oracle.set("job-1", "SUBMITTED")

	changed, err := h.ctrl.ReconcileOne(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, media.StateProcessing, h.store.get(1).State)
	assert.Zero(t, h.store.writeCount())
}

func TestReconcileOne_ErrorKeepsStreamingURL(t *testing.T) {
	start := inFlight(1, media.StateQueued, "job-1")
	h := newHarness(start)
	h.oracle.set("job-1", "ERROR")

	changed, err := h.ctrl.ReconcileOne(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, changed)

	rec := h.store.get(1)
	assert.Equal(t, media.StateError, rec.State)
	assert.Equal(t, start.StreamingURL, rec.StreamingURL)
	assert.Empty(t, rec.PublicStreamingURL())
	assert.NotEmpty(t, rec.LastError)
}

func TestReconcileOne_UnknownStatusBecomesError(t *testing.T) {
	h := newHarness(inFlight(1, media.StateQueued, "job-1"))
	h.oracle.set("job-1", "MYSTERY")

	changed, err := h.ctrl.ReconcileOne(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, media.StateError, h.store.get(1).State)
}

func TestReconcileOne_OracleFailure(t *testing.T) {
	start := inFlight(1, media.StateQueued, "job-1")
	h := newHarness(start)
	h.oracle.errs["job-1"] = errors.New("timeout")

	changed, err := h.ctrl.ReconcileOne(context.Background(), 1)
	var rerr *media.ReconcileError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, int64(1), rerr.MovieID)
	assert.False(t, changed)
	assert.Equal(t, start, h.store.get(1))
}

func TestReconcileOne_SkipsWithoutHandle(t *testing.T) {
	h := newHarness(inFlight(1, media.StateQueued, ""), notStarted(2))
	for _, id := range []int64{1, 2} {
		changed, err := h.ctrl.ReconcileOne(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, changed)
	}
	assert.Zero(t, h.oracle.calls)
}

func TestRecoverUnrecorded_UnsticksQueuedWithoutHandle(t *testing.T) {
	h := newHarness(inFlight(1, media.StateQueued, ""), inFlight(2, media.StateQueued, "job-2"), inFlight(3, media.StateProcessing, "job-3"), notStarted(4))
	ctx := context.Background()

	_, err := h.ctrl.Enqueue(ctx, 1)
	require.ErrorIs(t, err, media.ErrAlreadyInProgress)

	n, err := h.ctrl.RecoverUnrecorded(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec := h.store.get(1)
	assert.Equal(t, media.StateError, rec.State)
	assert.Equal(t, errDispatchInterrupted, rec.LastError)
	assert.Equal(t, media.StateQueued, h.store.get(2).State)
	assert.Equal(t, media.StateProcessing, h.store.get(3).State)

	n, err = h.ctrl.RecoverUnrecorded(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.dispatcher.next = accept("job-1", "SUBMITTED")
	rec, err = h.ctrl.Dispatch(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, "job-1", rec.JobHandle)
	assert.Equal(t, 2, rec.Attempt)
}

func TestRecoverUnrecorded_ListFailure(t *testing.T) {
	h := newHarness()
	h.store.listErr = errors.New("disk gone")
	_, err := h.ctrl.RecoverUnrecorded(context.Background())
	require.Error(t, err)
}

func TestSelectManifest(t *testing.T) {
	cases := []struct {
		name string
		urls []string
		want string
		err  error
	}{
		{"index wins", []string{"http://h/a_720p.m3u8", "http://h/index.m3u8"}, "http://h/index.m3u8", nil},
		{"first playlist", []string{"http://h/seg.ts", "http://h/b.m3u8", "http://h/c.m3u8"}, "http://h/b.m3u8", nil},
		{"query ignored", []string{"http://h/master_index.M3U8?sig=1"}, "http://h/master_index.M3U8?sig=1", nil},
		{"none", []string{"http://h/seg.ts"}, "", media.ErrManifestNotFound},
		{"empty", nil, "", media.ErrManifestNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SelectManifest(tc.urls)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

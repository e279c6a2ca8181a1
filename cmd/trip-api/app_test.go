package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	tripsapi "github.com/BearBump/FreightDesk/internal/api/trips_api"
	"github.com/BearBump/FreightDesk/internal/broker/kafka"
	"github.com/BearBump/FreightDesk/internal/broker/messages"
	"github.com/BearBump/FreightDesk/internal/errs"
	"github.com/BearBump/FreightDesk/internal/metrics"
	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeApplier struct {
	mu   sync.Mutex
	got  []messages.WaybillStatusChanged
	err  error
	done chan struct{}
}

func (f *fakeApplier) ApplyWaybillStatus(_ context.Context, msg messages.WaybillStatusChanged) error {
	f.mu.Lock()
	f.got = append(f.got, msg)
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
		f.done = nil
	}
	return f.err
}

type fakeConsumer struct {
	msgs [][]byte
}

func (c fakeConsumer) Consume(ctx context.Context, handler kafka.Handler) error {
	for _, m := range c.msgs {
		if err := handler(ctx, []byte("acc-1"), m); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func writeSwagger(t *testing.T) string {
	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))
	return sw
}

func TestRunTripAPI_ServesSwaggerAndConsumes(t *testing.T) {
	metrics.Register()
	sw := writeSwagger(t)

	folio := "A-100"
	msg, err := json.Marshal(messages.WaybillStatusChanged{
		AccountID:      "acc-1",
		WaybillDraftID: "wd-1",
		Status:         models.DraftStatusIssued,
		FiscalFolio:    &folio,
	})
	require.NoError(t, err)

	done := make(chan struct{})
	applier := &fakeApplier{done: done}
	api := tripsapi.New(tripsapi.Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := tripAPIOpts{
		httpAddr:      "127.0.0.1:0",
		swaggerPath:   sw,
		topic:         "waybill.status",
		consumerGroup: "g",
		onListen:      func(httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- runTripAPI(ctx, opts, api, applier, fakeConsumer{msgs: [][]byte{msg}})
	}()

	httpAddr := <-addrCh
	base := "http://" + httpAddr

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	resp, err := http.Get(base + "/swagger.json")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"swagger"`)

	resp, err = http.Get(base + "/v1/trips/trip-1")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Contains(t, string(body), "freightdesk_http_requests_total")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("waybill status message was not applied")
	}
	applier.mu.Lock()
	require.Len(t, applier.got, 1)
	require.Equal(t, "wd-1", applier.got[0].WaybillDraftID)
	applier.mu.Unlock()

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestRunTripAPI_RequiresSwagger(t *testing.T) {
	api := tripsapi.New(tripsapi.Deps{})
	err := runTripAPI(context.Background(), tripAPIOpts{httpAddr: "127.0.0.1:0"}, api, &fakeApplier{}, fakeConsumer{})
	require.Error(t, err)

	err = runTripAPI(context.Background(), tripAPIOpts{httpAddr: "127.0.0.1:0", swaggerPath: "/nope/swagger.json"}, api, &fakeApplier{}, fakeConsumer{})
	require.Error(t, err)
}

func TestWaybillStatusHandler(t *testing.T) {
	ctx := context.Background()
	valid, err := json.Marshal(messages.WaybillStatusChanged{AccountID: "acc-1", WaybillDraftID: "wd-1", Status: models.DraftStatusCancelled})
	require.NoError(t, err)

	// malformed payloads are committed
	require.NoError(t, waybillStatusHandler(&fakeApplier{})(ctx, nil, []byte("{")))

	for _, nonRetryable := range []error{
		errs.ErrInvalidTransition,
		errs.ErrNotFound,
		&errs.MappingError{Field: "status", Reason: "unsupported"},
	} {
		require.NoError(t, waybillStatusHandler(&fakeApplier{err: nonRetryable})(ctx, nil, valid))
	}

	transient := &errs.TransientStoreError{Op: "update draft status", Err: context.DeadlineExceeded}
	require.ErrorIs(t, waybillStatusHandler(&fakeApplier{err: transient})(ctx, nil, valid), context.DeadlineExceeded)
}

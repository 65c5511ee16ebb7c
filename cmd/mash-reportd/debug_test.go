package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/mash-reporting/pkg/metrics"
	"github.com/mash-protocol/mash-reporting/pkg/reporting"
)

type fakeEngine struct {
	infos     []reporting.TransactionInfo
	stats     reporting.Stats
	err       error
	cancelled []uint32
}

func (f *fakeEngine) Transactions(context.Context) ([]reporting.TransactionInfo, error) {
	return f.infos, f.err
}

func (f *fakeEngine) Stats(context.Context) (reporting.Stats, error) {
	return f.stats, f.err
}

func (f *fakeEngine) CancelTransaction(_ context.Context, id uint32) error {
	if f.err != nil {
		return f.err
	}
	for _, info := range f.infos {
		if info.ID == id {
			f.cancelled = append(f.cancelled, id)
			return nil
		}
	}
	return reporting.ErrUnknownTransaction
}

func serve(t *testing.T, engine engineStatus, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	m.TransactionStarted("SUBSCRIBE")

	rec := httptest.NewRecorder()
	newDebugRouter(engine, registry, discardLogger()).ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestDebugTransactions(t *testing.T) {
	engine := &fakeEngine{infos: []reporting.TransactionInfo{
		{ID: 7, Kind: "SUBSCRIBE", State: "IDLE", MaxInterval: "1m0s"},
	}}

	rec := serve(t, engine, http.MethodGet, "/transactions")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got []reporting.TransactionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, uint32(7), got[0].ID)
	assert.Equal(t, "SUBSCRIBE", got[0].Kind)
}

func TestDebugStats(t *testing.T) {
	engine := &fakeEngine{stats: reporting.Stats{
		Transactions:   2,
		EventsBuffered: map[string]int{"INFO": 3},
	}}

	rec := serve(t, engine, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var got reporting.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Transactions)
	assert.Equal(t, 3, got.EventsBuffered["INFO"])
}

func TestDebugCancel(t *testing.T) {
	engine := &fakeEngine{infos: []reporting.TransactionInfo{{ID: 7}}}

	rec := serve(t, engine, http.MethodDelete, "/transactions/7")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []uint32{7}, engine.cancelled)

	rec = serve(t, engine, http.MethodDelete, "/transactions/8")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, engine, http.MethodDelete, "/transactions/abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDebugEngineClosed(t *testing.T) {
	rec := serve(t, &fakeEngine{err: reporting.ErrEngineClosed}, http.MethodGet, "/stats")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "closed")
}

func TestDebugMetrics(t *testing.T) {
	rec := serve(t, &fakeEngine{}, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "mash_reporting_transactions_active"))
}

func TestDebugMethodNotAllowed(t *testing.T) {
	rec := serve(t, &fakeEngine{}, http.MethodPost, "/stats")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

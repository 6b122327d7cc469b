package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nrega-mitra/backend/internal/config"
)

const upstreamBody = `{"status":"ok","total":3,"count":3,"records":[
{"fin_year":"2024-2025","month":"Jan","state_name":"Maharashtra","district_name":"Pune","Total_No_of_Workers":"1200"},
{"fin_year":"2024-2025","month":"Jan","state_name":"Maharashtra","district_name":"Nagpur","Total_No_of_Workers":"900"},
{"fin_year":"2024-2025","month":"Jan","state_name":"Goa","district_name":"North Goa","Total_No_of_Workers":"100"}]}`

func testConfig(t *testing.T, baseURL string) *config.Config {
	return &config.Config{
		StoreDriver:     config.DriverSQLite,
		SQLitePath:      filepath.Join(t.TempDir(), "nrega.db"),
		DataAPIBaseURL:  baseURL,
		ResourceID:      "ee03643a",
		APIKey:          "test-key",
		PageLimit:       100,
		MaxPages:        2,
		FetchTimeout:    5 * time.Second,
		TargetState:     "MAHARASHTRA",
		RefreshSchedule: "0 0 * * *",
		LocateMaxKm:     150,
		LogLevel:        "error",
		LogFormat:       "json",
	}
}

func TestRefreshJobStoresTargetState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, upstreamBody)
	}))
	defer server.Close()

	ctx := context.Background()
	a, err := NewWithConfig(ctx, testConfig(t, server.URL), Options{Fetch: true})
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.RefreshJob()(ctx))

	districts, err := a.UseCase.ListDistricts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"NAGPUR", "PUNE"}, districts)

	run, err := a.UseCase.LastRefresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, run.Fetched)
	assert.Equal(t, 2, run.Stored)
}

func TestRefreshJobReportsUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Invalid API key"}`, http.StatusForbidden)
	}))
	defer server.Close()

	a, err := NewWithConfig(context.Background(), testConfig(t, server.URL), Options{Fetch: true})
	require.NoError(t, err)
	defer a.Close()

	err = a.RefreshJob()(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid API key")
}

func TestFetchSettingsAreRequiredOnlyWhenFetching(t *testing.T) {
	cfg := testConfig(t, "http://unused")
	cfg.APIKey = ""

	_, err := NewWithConfig(context.Background(), cfg, Options{Fetch: true})
	assert.True(t, errors.Is(err, errors.NotValid), "got %v", err)

	a, err := NewWithConfig(context.Background(), cfg, Options{})
	require.NoError(t, err)
	defer a.Close()

	_, err = a.UseCase.RefreshNregaData(context.Background())
	assert.True(t, errors.Is(err, errors.NotSupported))
}

func TestSchedulerUsesConfiguredSchedule(t *testing.T) {
	cfg := testConfig(t, "http://unused")
	cfg.RefreshSchedule = "not a schedule"

	a, err := NewWithConfig(context.Background(), cfg, Options{})
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Scheduler()
	assert.True(t, errors.Is(err, errors.NotValid))

	a.Config.RefreshSchedule = "30 6 * * *"
	s, err := a.Scheduler()
	require.NoError(t, err)
	next := s.Next(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 1, 1, 6, 30, 0, 0, time.UTC), next)
}

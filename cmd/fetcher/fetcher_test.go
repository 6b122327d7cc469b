package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nrega-mitra/backend/internal/app"
	"github.com/nrega-mitra/backend/internal/config"
	"github.com/nrega-mitra/backend/internal/entities"
	"github.com/nrega-mitra/backend/internal/integration"
)

// TestFetchLiveData checks the real data API when credentials are available
func TestFetchLiveData(t *testing.T) {
	// Skip this test in CI environments or without credentials
	if os.Getenv("CI") == "true" {
		t.Skip("Skipping test in CI environment")
	}
	apiKey, resourceID := os.Getenv("API_KEY"), os.Getenv("RESOURCE_ID")
	if apiKey == "" || resourceID == "" {
		t.Skip("API_KEY and RESOURCE_ID are required for the live test")
	}

	client := integration.NewDataGovClient(integration.ClientOptions{
		ResourceID: resourceID,
		APIKey:     apiKey,
		PageLimit:  100,
		MaxPages:   1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	records, err := client.FetchRecords(ctx)
	if err != nil {
		// Don't fail the test completely if it's just a temporary network issue
		t.Logf("Warning: Failed to fetch data: %v", err)
		t.Skip("Skipping test due to network issues - this is not a code bug")
	}
	require.NotEmpty(t, records, "no records were returned by the data API")

	for i, rec := range records {
		if i >= 3 {
			break
		}
		t.Logf("Entry %d: State=%s, District=%s, Year=%s, Month=%s",
			i, rec.StateName, rec.DistrictName, rec.FinYear, rec.Month)
	}
	assert.NotEmpty(t, records[0].DistrictName)
}

// mockDataAPI serves a fixed page of records for two states
func mockDataAPI() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"status":"ok","total":4,"records":[`)
		districts := []string{"Pune", "Satara", "Nagpur"}
		for i, d := range districts {
			fmt.Fprintf(w, `{"fin_year":"2024-2025","month":"Jan","state_name":"Maharashtra","district_name":%q,"Total_No_of_Workers":"%d"},`, d, (i+1)*100)
		}
		io.WriteString(w, `{"fin_year":"2024-2025","month":"Jan","state_name":"Kerala","district_name":"Idukki","Total_No_of_Workers":"50"}]}`)
	}))
}

// TestRunOnceStoresData runs a single refresh against a mock API and a temp database
func TestRunOnceStoresData(t *testing.T) {
	server := mockDataAPI()
	defer server.Close()

	cfg := &config.Config{
		StoreDriver:     config.DriverSQLite,
		SQLitePath:      filepath.Join(t.TempDir(), "test-nrega.db"),
		DataAPIBaseURL:  server.URL,
		ResourceID:      "ee03643a",
		APIKey:          "test-key",
		PageLimit:       10,
		MaxPages:        1,
		FetchTimeout:    5 * time.Second,
		TargetState:     "MAHARASHTRA",
		RefreshSchedule: "0 0 * * *",
		LocateMaxKm:     150,
		LogLevel:        "error",
		LogFormat:       "json",
	}

	ctx := context.Background()
	a, err := app.NewWithConfig(ctx, cfg, app.Options{Fetch: true})
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, runOnce(ctx, a))

	records, err := a.UseCase.GetStateRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	satara, err := a.UseCase.GetDistrict(ctx, "SATARA")
	require.NoError(t, err)
	assert.Equal(t, "200", satara.TotalWorkers)

	run, err := a.UseCase.LastRefresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, entities.RunSucceeded, run.Status)
	assert.Equal(t, 4, run.Fetched)
	assert.Equal(t, 3, run.Stored)
}

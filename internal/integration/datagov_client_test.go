package integration

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDataAPI creates a test server that serves total records split into pages
func mockDataAPI(t *testing.T, total int, calls *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "/resource/ee03643a", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("api-key"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","total":%d,"count":%d,"records":[`, total, limit)
		for i := offset; i < offset+limit && i < total; i++ {
			if i > offset {
				io.WriteString(w, ",")
			}
			fmt.Fprintf(w, `{"fin_year":"2024-2025","month":"Dec","state_name":"Maharashtra","district_name":"D%d","Wages":%d.5,"Total_Exp":"12.34","Remarks":null,"extra_field":"dropped"}`, i, i)
		}
		io.WriteString(w, "]}")
	}))
}

func TestFetchRecordsPaginates(t *testing.T) {
	var calls int32
	server := mockDataAPI(t, 5, &calls)
	defer server.Close()

	client := NewDataGovClient(ClientOptions{
		BaseURL:    server.URL + "/resource",
		ResourceID: "ee03643a",
		APIKey:     "test-key",
		PageLimit:  2,
		MaxPages:   10,
	})

	records, err := client.FetchRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))

	assert.Equal(t, "D0", records[0].DistrictName)
	assert.Equal(t, "Maharashtra", records[0].StateName)
	assert.Equal(t, "4.5", records[4].Wages, "numbers are kept as their text form")
	assert.Equal(t, "12.34", records[4].TotalExp)
	assert.Empty(t, records[4].Remarks)
}

func TestFetchRecordsStopsAtMaxPages(t *testing.T) {
	var calls int32
	server := mockDataAPI(t, 100, &calls)
	defer server.Close()

	client := NewDataGovClient(ClientOptions{
		BaseURL:    server.URL + "/resource/",
		ResourceID: "ee03643a",
		APIKey:     "test-key",
		PageLimit:  10,
		MaxPages:   2,
	})

	records, err := client.FetchRecords(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 20)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestFetchRecordsRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			io.WriteString(w, "<html><head><title>502 Bad Gateway</title></head><body><h1>Bad Gateway</h1></body></html>")
			return
		}
		io.WriteString(w, `{"records":[{"state_name":"MAHARASHTRA","district_name":"PUNE"}]}`)
	}))
	defer server.Close()

	client := NewDataGovClient(ClientOptions{
		BaseURL:       server.URL,
		ResourceID:    "r",
		APIKey:        "k",
		Retries:       2,
		RetryInterval: time.Millisecond,
	})

	records, err := client.FetchRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "PUNE", records[0].DistrictName)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestFetchRecordsDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"message":"Invalid API key"}`)
	}))
	defer server.Close()

	client := NewDataGovClient(ClientOptions{
		BaseURL:       server.URL,
		ResourceID:    "r",
		APIKey:        "bad",
		Retries:       3,
		RetryInterval: time.Millisecond,
	})

	_, err := client.FetchRecords(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid API key")
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestParseRecords(t *testing.T) {
	records, total, err := ParseRecords([]byte(`{"total":"2","records":[{"district_name":"A"},{"district_name":"B","month":"Jan"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, records, 2)
	assert.Equal(t, "Jan", records[1].Month)

	records, _, err = ParseRecords([]byte(`{"records":[]}`))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestParseRecordsErrors(t *testing.T) {
	_, _, err := ParseRecords([]byte(`{"status":"error","message":"Resource id doesn't exist"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Resource id doesn't exist")

	_, _, err = ParseRecords([]byte(`{"message":"Meta not found"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Meta not found")

	_, _, err = ParseRecords([]byte(`{"records":{"a":1}}`))
	assert.Error(t, err)

	_, _, err = ParseRecords([]byte(`<html>nope</html>`))
	assert.Error(t, err)
}

func TestDescribeErrorBody(t *testing.T) {
	assert.Equal(t, "empty body", DescribeErrorBody(nil))
	assert.Equal(t, "Invalid API key", DescribeErrorBody([]byte(`{"error":"Invalid API key"}`)))
	assert.Equal(t, "503 Service Unavailable: Service Temporarily Unavailable",
		DescribeErrorBody([]byte(`<html><head><title>503 Service Unavailable</title></head>
<body><h1>Service Temporarily  Unavailable</h1></body></html>`)))
	assert.Equal(t, "maintenance window",
		DescribeErrorBody([]byte(`<html><body><p>maintenance
 window</p></body></html>`)))
	assert.Equal(t, "plain text", DescribeErrorBody([]byte("  plain   text ")))
}

func TestDescribeErrorBodyKeepsRunesWhole(t *testing.T) {
	got := DescribeErrorBody([]byte(strings.Repeat("न", 100)))
	assert.True(t, utf8.ValidString(got), "%q", got)
	assert.Equal(t, strings.Repeat("न", 66)+"...", got)

	ascii := strings.Repeat("x", 250)
	assert.Equal(t, ascii[:200]+"...", DescribeErrorBody([]byte(ascii)))
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printlot-io/printlot/internal/core/model"
	"github.com/printlot-io/printlot/internal/emitter"
	"github.com/printlot-io/printlot/internal/ingest"
	"github.com/printlot-io/printlot/internal/queue"
	"github.com/printlot-io/printlot/internal/resolver"
	"github.com/printlot-io/printlot/internal/scraper"
	"github.com/printlot-io/printlot/internal/store/memory"
	"github.com/printlot-io/printlot/pkg/log"
	"github.com/printlot-io/printlot/pkg/options"
)

const testVIN = "1HGCM82633A004352"

type fakeAdapter struct {
	name string
	rows []model.RawVehicle
}

func (a *fakeAdapter) Name() string           { return a.name }
func (a *fakeAdapter) ExpectedCountHint() int { return len(a.rows) }
func (a *fakeAdapter) DataSource() string     { return "real" }
func (a *fakeAdapter) Produce(context.Context) ([]model.RawVehicle, error) {
	return a.rows, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	s := memory.New()

	require.NoError(t, s.UpsertDealership(ctx, &model.DealershipConfig{
		Name:     "Acme Honda",
		IsActive: true,
		Output: model.OutputRules{
			TemplateType:  "shortcut_pack",
			QRURLTemplate: "https://lot.example.com/v/{vin}",
			DefaultSize:   "Medium (STD)",
		},
		QROutputPath: t.TempDir(),
	}))

	svc := ingest.NewService(s, log.NewNopLogger())
	hub := NewSessionHub()
	orch := scraper.New(svc, scraper.Config{Concurrency: 2, AdapterTimeout: 5 * time.Second}, log.NewNopLogger(), hub)
	r := resolver.New(s, time.UTC, log.NewNopLogger())
	e := emitter.New(s, t.TempDir(), log.NewNopLogger())
	p := queue.NewProcessor(s, r, e, 2, log.NewNopLogger())

	factory := func(cfg model.DealershipConfig) scraper.Adapter {
		return &fakeAdapter{name: cfg.Name, rows: []model.RawVehicle{{
			VIN: testVIN, Stock: "T1234", Year: "2021", Make: "Honda", Model: "Civic",
			Price: "$24,500", VehicleType: "used",
		}}}
	}

	srv := New(options.NewHttpOptions(), s, svc, p, orch, factory, hub, log.NewNopLogger())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, s
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func uploadCSV(t *testing.T, url, fieldCSV string, extra map[string]string) (*http.Response, func()) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "upload.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(fieldCSV))
	require.NoError(t, err)
	for k, v := range extra {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(url, mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	return resp, func() { resp.Body.Close() }
}

// seedInventory pushes one vehicle through a real import so it is active.
func seedInventory(t *testing.T, ts *httptest.Server) {
	t.Helper()
	csv := "vin,stock,year,make,model,price,vehicle_type\n" +
		testVIN + ",T1234,2021,Honda,Civic,24500,used\n"
	resp, done := uploadCSV(t, ts.URL+"/api/v1/imports/csv", csv, map[string]string{"dealership": "Acme Honda"})
	defer done()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		ImportID string `json:"import_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.ImportID)

	status := postJSON(t, ts.URL+"/api/v1/imports/"+created.ImportID+"/status",
		map[string]string{"status": "active"}, nil)
	require.Equal(t, http.StatusOK, status)
}

func TestHealthAndReady(t *testing.T) {
	ts, _ := newTestServer(t)
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/healthz", nil))
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/readyz", nil))
}

func TestUpsertAndListDealerships(t *testing.T) {
	ts, _ := newTestServer(t)

	body := map[string]any{
		"is_active": true,
		"output_rules": map[string]any{
			"template_type":   "windshield",
			"qr_url_template": "https://lot.example.com/v/{vin}",
		},
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/dealerships/Other Motors", bytes.NewReader(raw))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listed struct {
		Dealerships []model.DealershipConfig `json:"dealerships"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/dealerships", &listed))
	names := make([]string, 0, len(listed.Dealerships))
	for _, d := range listed.Dealerships {
		names = append(names, d.Name)
	}
	assert.Contains(t, names, "Acme Honda")
	assert.Contains(t, names, "Other Motors")
}

func TestStartScrapingServesSessionEvents(t *testing.T) {
	ts, _ := newTestServer(t)

	var started struct {
		SessionID string `json:"session_id"`
	}
	status := postJSON(t, ts.URL+"/api/v1/scrape", map[string]any{"dealerships": []string{"Acme Honda"}}, &started)
	require.Equal(t, http.StatusAccepted, status)
	require.NotEmpty(t, started.SessionID)

	var session struct {
		Done   bool          `json:"done"`
		Events []model.Event `json:"events"`
	}
	deadline := time.Now().Add(5 * time.Second)
	for !session.Done {
		require.True(t, time.Now().Before(deadline), "session never completed")
		time.Sleep(20 * time.Millisecond)
		code := getJSON(t, ts.URL+"/api/v1/scrape/sessions/"+started.SessionID+"/events", &session)
		if code == http.StatusNotFound {
			continue
		}
		require.Equal(t, http.StatusOK, code)
	}

	types := make([]model.EventType, 0, len(session.Events))
	for _, ev := range session.Events {
		types = append(types, ev.Type)
		assert.Equal(t, started.SessionID, ev.SessionID)
	}
	assert.Equal(t, model.EventSessionStart, types[0])
	assert.Equal(t, model.EventSessionComplete, types[len(types)-1])

	// The session's manifest is active, so the vehicle is searchable.
	var search struct {
		Total int `json:"total"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/vehicles?make=Honda", &search))
	assert.Equal(t, 1, search.Total)
}

func TestSessionEventsUnknownID(t *testing.T) {
	ts, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/v1/scrape/sessions/nope/events", nil))
}

func TestScrapeRejectsUnknownDealership(t *testing.T) {
	ts, _ := newTestServer(t)
	status := postJSON(t, ts.URL+"/api/v1/scrape", map[string]any{"dealerships": []string{"Ghost Lot"}}, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestProcessQueueEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	seedInventory(t, ts)

	var out struct {
		Results   []queue.Result `json:"results"`
		Succeeded int            `json:"succeeded"`
	}
	status := postJSON(t, ts.URL+"/api/v1/queue/process", map[string]any{
		"jobs": []map[string]any{{"dealership": "Acme Honda", "mode": "CAO"}},
	}, &out)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, out.Results, 1)
	assert.True(t, out.Results[0].Success, out.Results[0].Error)
	assert.Equal(t, 1, out.Succeeded)
	assert.NotEmpty(t, out.Results[0].CSVPath)

	var runs struct {
		Runs []model.OrderRun `json:"runs"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/orders/runs?dealership=Acme+Honda", &runs))
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, model.RunStatusCompleted, runs.Runs[0].Status)
}

func TestProcessQueueRequiresJobs(t *testing.T) {
	ts, _ := newTestServer(t)
	status := postJSON(t, ts.URL+"/api/v1/queue/process", map[string]any{"jobs": []any{}}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSearchAndVehicleHistory(t *testing.T) {
	ts, _ := newTestServer(t)
	seedInventory(t, ts)

	var search struct {
		Vehicles     []model.Vehicle           `json:"vehicles"`
		Total        int                       `json:"total"`
		FilterCounts map[string]map[string]int `json:"filter_counts"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/vehicles?q=civic", &search))
	require.Equal(t, 1, search.Total)
	assert.Equal(t, testVIN, search.Vehicles[0].VIN)
	assert.Equal(t, 1, search.FilterCounts["make"]["Honda"])

	var history struct {
		TotalScrapes int                `json:"total_scrapes"`
		Scrapes      []model.RawVehicle `json:"scrapes"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/vehicles/"+testVIN+"/history", &history))
	assert.Equal(t, 1, history.TotalScrapes)

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/v1/vehicles/UNKNOWNVIN1234567/history", nil))
}

func TestSearchRejectsBadYear(t *testing.T) {
	ts, _ := newTestServer(t)
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/v1/vehicles?year=recent", nil))
}

func TestImportStatusValidation(t *testing.T) {
	ts, _ := newTestServer(t)
	status := postJSON(t, ts.URL+"/api/v1/imports/whatever/status", map[string]string{"status": "pending"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = postJSON(t, ts.URL+"/api/v1/imports/missing/status", map[string]string{"status": "archived"}, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestImportCSVWithoutDealershipUsesRowLocations(t *testing.T) {
	ts, s := newTestServer(t)
	csv := "vin,stock,year,make,model,price,vehicle_type,location\n" +
		"1HGCM82633A004352,A1,2022,Honda,Accord,28500,used,Acme Honda\n" +
		"2HGCM82633A004353,B1,2023,Honda,Civic,25000,used,Other Motors\n"
	resp, done := uploadCSV(t, ts.URL+"/api/v1/imports/csv", csv, nil)
	defer done()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	m, err := s.ActiveManifest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, m.VehicleCount)
	assert.Equal(t, 1, m.DealershipCounts["Acme Honda"])
	assert.Equal(t, 1, m.DealershipCounts["Other Motors"])
}

func TestImportCSVWithoutDealershipRejectsRowsMissingLocation(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, done := uploadCSV(t, ts.URL+"/api/v1/imports/csv", "vin\n1HGCM82633A004352\n", nil)
	defer done()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExportImportRoundTrip(t *testing.T) {
	ts, s := newTestServer(t)
	seedInventory(t, ts)

	manifest, err := s.ActiveManifest(context.Background())
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/api/v1/imports/" + manifest.ID + "/export")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), testVIN)
}

func TestVINLogImportExportAndHistory(t *testing.T) {
	ts, _ := newTestServer(t)

	csv := "vin,order_date,order_type\n" +
		testVIN + ",2026-08-01,BASELINE\n"
	resp, done := uploadCSV(t, ts.URL+"/api/v1/dealerships/Acme Honda/vin-log/import", csv, nil)
	defer done()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var counts struct {
		Inserted int `json:"inserted"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&counts))
	assert.Equal(t, 1, counts.Inserted)

	var history struct {
		Total int `json:"total"`
		Stats struct {
			Baseline int `json:"baseline"`
		} `json:"stats"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/dealerships/Acme Honda/vin-history", &history))
	assert.Equal(t, 1, history.Total)
	assert.Equal(t, 1, history.Stats.Baseline)

	exp, err := http.Get(ts.URL + "/api/v1/dealerships/Acme Honda/vin-log/export")
	require.NoError(t, err)
	defer exp.Body.Close()
	require.Equal(t, http.StatusOK, exp.StatusCode)
	raw, err := io.ReadAll(exp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), testVIN), "export should list the vin: %s", raw)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "printlot_"), "expected printlot metrics, got: %.200s", raw)
}

func TestRunShutsDownOnContextCancel(t *testing.T) {
	srv := &Server{opts: options.NewHttpOptions(), logger: log.NewNopLogger()}
	srv.opts.Addr = "127.0.0.1:0"
	srv.httpServer = &http.Server{Addr: srv.opts.Addr, Handler: http.NewServeMux()}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}

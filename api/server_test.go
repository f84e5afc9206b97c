package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seenimoa/dispersion/internal/backtest"
	"github.com/seenimoa/dispersion/internal/config"
	"github.com/seenimoa/dispersion/pkg/models"
)

func testServer(result *backtest.Result) *Server {
	cfg := &config.Config{}
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = 0
	return NewServer(cfg, result, zap.NewNop())
}

func testResult() *backtest.Result {
	day := func(i int) time.Time {
		return time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
	}
	equity := []models.EquityRecord{
		{Date: day(0), Cash: 1_000_000, TotalValue: 1_000_000, RiskState: "normal"},
		{Date: day(1), Cash: 990_000, PositionValue: 15_000, TotalValue: 1_005_000, RiskState: "normal"},
	}
	trades := []models.TradeRecord{
		{ContractID: "c1", Ticker: "SPY", Type: models.Call, Quantity: -3,
			EntryDate: day(0), ExitDate: day(1), EntryPrice: 6, ExitPrice: 4, PnL: 600,
			ExitReason: "signal_exit"},
	}
	return &backtest.Result{
		StartDate: day(0),
		EndDate:   day(1),
		Equity:    equity,
		Trades:    trades,
		Summary:   backtest.ComputeSummary(1_000_000, equity, trades, 3, 1),
	}
}

func doGet(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(testResult())
	rec := doGet(t, s, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp := decodeResponse(t, rec); !resp.Success {
		t.Error("health response not successful")
	}
}

func TestSummaryEndpoint(t *testing.T) {
	s := testServer(testResult())
	rec := doGet(t, s, "/api/v1/summary")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if !resp.Success {
		t.Fatal("summary response not successful")
	}
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("summary data type %T", resp.Data)
	}
	if got := data["initial_capital"].(float64); got != 1_000_000 {
		t.Errorf("initial_capital = %v, want 1000000", got)
	}
}

func TestSummaryTextEndpoint(t *testing.T) {
	s := testServer(testResult())
	rec := doGet(t, s, "/api/v1/summary/text")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "DISPERSION BACKTEST SUMMARY") {
		t.Error("text summary missing header")
	}
}

func TestEquityAndTradesEndpoints(t *testing.T) {
	s := testServer(testResult())

	rec := doGet(t, s, "/api/v1/equity")
	resp := decodeResponse(t, rec)
	if rows, ok := resp.Data.([]interface{}); !ok || len(rows) != 2 {
		t.Errorf("equity rows = %v", resp.Data)
	}

	rec = doGet(t, s, "/api/v1/trades")
	resp = decodeResponse(t, rec)
	rows, ok := resp.Data.([]interface{})
	if !ok || len(rows) != 1 {
		t.Fatalf("trade rows = %v", resp.Data)
	}
	row := rows[0].(map[string]interface{})
	if row["ticker"] != "SPY" {
		t.Errorf("trade ticker = %v, want SPY", row["ticker"])
	}
}

func TestMissingResultReturns404(t *testing.T) {
	s := testServer(nil)
	for _, path := range []string{
		"/api/v1/summary", "/api/v1/equity", "/api/v1/trades",
		"/api/v1/signals", "/api/v1/risk", "/api/v1/result",
	} {
		rec := doGet(t, s, path)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, rec.Code)
		}
		if resp := decodeResponse(t, rec); resp.Success {
			t.Errorf("%s should not report success", path)
		}
	}
}

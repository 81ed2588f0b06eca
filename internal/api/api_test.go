package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/harrier/internal/audit"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/policy"
	"github.com/opensource-finance/harrier/internal/repository"
)

const triangleCSV = `transaction_id,sender_id,receiver_id,amount,timestamp
T1,A,B,100,2025-01-01T00:00:00
T2,B,C,100,2025-01-01T01:00:00
T3,C,A,100,2025-01-01T02:00:00
`

// createTestServer wires a full server against SQLite and the local cache.
func createTestServer(t *testing.T, uploadsPerMinute int) *Server {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:             "localhost",
		Port:             8080,
		ReadTimeout:      30,
		WriteTimeout:     30,
		UploadsPerMinute: uploadsPerMinute,
	}

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return NewServer(cfg, repo, cache.NewLRUCache(100), nil, policy.Default(), audit.NewChain(), "test-v1")
}

func uploadCSV(t *testing.T, server *Server, tenantID, csv string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "transactions.csv")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	fw.Write([]byte(csv))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestUploadEndpoint(t *testing.T) {
	server := createTestServer(t, 0)

	t.Run("SuccessfulUpload", func(t *testing.T) {
		rr := uploadCSV(t, server, "tenant-001", triangleCSV)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if rr.Header().Get("X-Run-ID") == "" {
			t.Error("expected X-Run-ID header")
		}

		var result domain.AnalysisResult
		if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if result.RunID == "" {
			t.Error("expected runId in result")
		}
		if result.Summary.TotalAccounts != 3 || result.Summary.SuspiciousAccounts != 3 {
			t.Errorf("unexpected summary: %+v", result.Summary)
		}
		if len(result.Accounts) != 3 {
			t.Fatalf("expected 3 accounts, got %d", len(result.Accounts))
		}
		if result.Accounts[0].AccountID != "A" || result.Accounts[0].SuspicionScore != 79.6 {
			t.Errorf("unexpected first account: %+v", result.Accounts[0])
		}
		if len(result.Rings) != 1 || result.Rings[0].RingID != "RING_001" {
			t.Errorf("expected RING_001 in output, got %+v", result.Rings)
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		rr := uploadCSV(t, server, "", triangleCSV)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingFileField", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewBufferString("plain body"))
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingColumn", func(t *testing.T) {
		rr := uploadCSV(t, server, "tenant-001", "sender_id,receiver_id,amount\nA,B,10\n")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("BadRecord", func(t *testing.T) {
		rr := uploadCSV(t, server, "tenant-001", "sender_id,receiver_id,amount,timestamp\nA,B,abc,2025-01-01\n")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := uploadCSV(t, server, "tenant-001", triangleCSV)

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestRunRetrieval(t *testing.T) {
	server := createTestServer(t, 0)

	rr := uploadCSV(t, server, "tenant-001", triangleCSV)
	if rr.Code != http.StatusOK {
		t.Fatalf("upload failed: %d", rr.Code)
	}
	runID := rr.Header().Get("X-Run-ID")

	t.Run("GetRun", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/runs/"+runID, nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var result domain.AnalysisResult
		if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if result.RunID != runID {
			t.Errorf("expected runId %s, got %s", runID, result.RunID)
		}
	})

	t.Run("RunNotFound", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/runs/no-such-run", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/runs/"+runID, nil)
		req.Header.Set("X-Tenant-ID", "tenant-002")

		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404 across tenants, got %d", rec.Code)
		}
	})

	t.Run("ListRuns", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/runs", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}

		var resp struct {
			Runs  []domain.Run `json:"runs"`
			Count int          `json:"count"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 1 || resp.Runs[0].ID != runID {
			t.Errorf("unexpected run list: %+v", resp)
		}
	})
}

func TestProjections(t *testing.T) {
	server := createTestServer(t, 0)

	if rr := uploadCSV(t, server, "tenant-001", triangleCSV); rr.Code != http.StatusOK {
		t.Fatalf("upload failed: %d", rr.Code)
	}

	t.Run("GetRing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/rings/RING_001", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp struct {
			Ring         domain.FraudRing         `json:"ring"`
			Members      []domain.SuspicionRecord `json:"members"`
			Transactions []domain.Transaction     `json:"transactions"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Ring.PatternType != "cycle" || len(resp.Members) != 3 {
			t.Errorf("unexpected ring payload: %+v", resp)
		}
		if len(resp.Transactions) != 3 {
			t.Errorf("expected 3 intra-ring transactions, got %d", len(resp.Transactions))
		}
	})

	t.Run("RingNotFound", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/rings/RING_999", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})

	t.Run("GetAccount", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/accounts/A", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}

		var resp struct {
			Account      domain.SuspicionRecord `json:"account"`
			Transactions []domain.Transaction   `json:"transactions"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Account.AccountID != "A" || resp.Account.SuspicionScore != 79.6 {
			t.Errorf("unexpected account record: %+v", resp.Account)
		}
		// A sends T1 and receives T3, newest first
		if len(resp.Transactions) != 2 || resp.Transactions[0].ID != "T3" {
			t.Errorf("unexpected account transactions: %+v", resp.Transactions)
		}
	})

	t.Run("AccountNotFound", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/accounts/ZZZ", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})

	t.Run("NoRunForTenant", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/accounts/A", nil)
		req.Header.Set("X-Tenant-ID", "tenant-002")

		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404 for tenant without runs, got %d", rec.Code)
		}
	})
}

func TestAuditEndpoint(t *testing.T) {
	server := createTestServer(t, 0)

	if rr := uploadCSV(t, server, "tenant-001", triangleCSV); rr.Code != http.StatusOK {
		t.Fatalf("upload failed: %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/audit", nil)
	req.Header.Set("X-Tenant-ID", "tenant-001")

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp struct {
		Blocks []audit.Block `json:"blocks"`
		Length int           `json:"length"`
		Valid  bool          `json:"valid"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	// Genesis plus one upload block.
	if resp.Length != 2 {
		t.Errorf("expected 2 blocks, got %d", resp.Length)
	}
	if !resp.Valid {
		t.Error("expected valid chain")
	}
}

func TestUploadRateLimit(t *testing.T) {
	server := createTestServer(t, 2)

	for i := 0; i < 2; i++ {
		if rr := uploadCSV(t, server, "tenant-001", triangleCSV); rr.Code != http.StatusOK {
			t.Fatalf("upload %d failed: %d", i+1, rr.Code)
		}
	}

	rr := uploadCSV(t, server, "tenant-001", triangleCSV)
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429 on third upload, got %d", rr.Code)
	}

	// Another tenant has its own counter.
	if rr := uploadCSV(t, server, "tenant-002", triangleCSV); rr.Code != http.StatusOK {
		t.Errorf("expected other tenant unaffected, got %d", rr.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t, 0)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TenantMiddlewareExtractsID", func(t *testing.T) {
		var capturedTenantID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", "my-tenant-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTenantID != "my-tenant-123" {
			t.Errorf("expected tenant ID 'my-tenant-123', got '%s'", capturedTenantID)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}

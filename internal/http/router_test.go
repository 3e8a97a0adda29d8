package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hajastudio/westcontrol-coverage/internal/config"
	"github.com/hajastudio/westcontrol-coverage/internal/domain"
	"github.com/hajastudio/westcontrol-coverage/internal/services"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:routerdb_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// schema so handlers don't explode on list endpoints
	if err := db.AutoMigrate(&domain.CoverageArea{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RecentLimit: 5,
		RateRPS:     1000,
		RateBurst:   100,
		Lookup:      config.LookupConfig{BaseURL: "http://127.0.0.1:0", Timeout: time.Second},
		Import:      config.ImportConfig{BatchWidth: 5, RunTTL: time.Minute, MaxUploadBytes: 1 << 20},
		Security:    config.SecurityConfig{EnableHSTS: false},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
	}
}

func registerTestRoutes(t *testing.T, r *gin.Engine, cfg config.Config) *gorm.DB {
	t.Helper()
	db := newTestDB(t)
	imp := NewImportService(db, cfg)
	t.Cleanup(imp.Shutdown)
	RegisterRoutes(r, db, imp, cfg)
	return db
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	registerTestRoutes(t, r, testConfig())

	// /health works
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// Swagger stays unmounted unless enabled
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /swagger expected 404, got %d", w.Code)
	}

	// NoRoute → 404
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}

	// Empty coverage list under the API base path
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/coverage", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/v1/coverage = %d body=%s", w.Code, w.Body.String())
	}
	if w.Header().Get("ETag") == "" {
		t.Fatalf("expected ETag on coverage list")
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := testConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	registerTestRoutes(t, r, cfg)

	// Any request runs through CORS middleware; header should reflect origin.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_ImportRoundTrip(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// ViaCEP-shaped stub upstream
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		parts := strings.Split(strings.Trim(req.URL.Path, "/"), "/")
		if len(parts) != 3 || parts[0] != "ws" || parts[2] != "json" {
			http.NotFound(w, req)
			return
		}
		code := parts[1]
		if code == "99999999" {
			fmt.Fprint(w, `{"erro": true}`)
			return
		}
		fmt.Fprintf(w, `{"cep":%q,"logradouro":"Rua %s","bairro":"Centro","localidade":"São Paulo","uf":"SP"}`, code, code)
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.Lookup.BaseURL = upstream.URL

	r := gin.New()
	registerTestRoutes(t, r, cfg)

	// Start an import with one resolvable and one unknown code
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/coverage/imports", strings.NewReader("01001000\n99999999\n"))
	req.Header.Set("Content-Type", "text/plain")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("start import -> %d body=%s", w.Code, w.Body.String())
	}
	var ack struct {
		RunID string `json:"run_id"`
		Total int    `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil || ack.RunID == "" {
		t.Fatalf("ack: %v %#v", err, ack)
	}
	if ack.Total != 2 {
		t.Fatalf("total = %d, want 2", ack.Total)
	}

	// Poll until the run settles
	var snap services.RunSnapshot
	deadline := time.Now().Add(2 * time.Second)
	for {
		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/coverage/imports/"+ack.RunID, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("poll -> %d body=%s", w.Code, w.Body.String())
		}
		if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
			t.Fatalf("poll json: %v", err)
		}
		if snap.State == services.RunStateDone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run still %s after deadline", snap.State)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if snap.Report == nil || snap.Report.Succeeded != 1 || snap.Report.Failed != 1 {
		t.Fatalf("unexpected report: %#v", snap.Report)
	}

	// Imported code is now serviceable
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/coverage/check/01001-000", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("check imported -> %d body=%s", w.Code, w.Body.String())
	}

	// Unknown code stays out
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/coverage/check/99999999", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("check unknown -> %d", w.Code)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := testConfig()
	cfg.Import.MaxUploadBytes = 16
	registerTestRoutes(t, r, cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/coverage/imports",
		strings.NewReader(strings.Repeat("01001000\n", 10)))
	req.Header.Set("Content-Type", "text/plain")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body -> %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	g := groupWithPrefix(r, "")
	g.GET("/root-ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	g2 := groupWithPrefix(r, "/api/v9")
	g2.GET("/deep-ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/root-ok", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("root group -> %d", w.Code)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v9/deep-ok", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("prefixed group -> %d", w.Code)
	}
}

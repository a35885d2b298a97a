package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RequestLogger("/metrics"))
	r.GET("/ping", func(c *gin.Context) {
		if _, ok := c.Get("request_id"); !ok {
			t.Fatalf("request_id not set in context")
		}
		c.String(http.StatusOK, "pong")
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}

	if w.Header().Get(RequestIDHeader) == "" {
		t.Fatalf("missing X-Request-ID header")
	}
}

func TestRequestLoggerKeepsClientRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RequestLogger())
	r.GET("/api/jobs/:id", func(c *gin.Context) {
		if got := c.GetString("request_id"); got != "client-rid" {
			t.Fatalf("request_id = %q, want client-rid", got)
		}
		c.Status(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/abc", nil)
	req.Header.Set(RequestIDHeader, "client-rid")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get(RequestIDHeader); got != "client-rid" {
		t.Fatalf("X-Request-ID = %q, want client-rid", got)
	}
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(CORS([]string{"http://localhost:5173"}))
	r.GET("/api/jobs", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"allowed origin", http.MethodGet, "http://localhost:5173", http.StatusOK, "http://localhost:5173"},
		{"unknown origin", http.MethodGet, "http://evil.test", http.StatusOK, ""},
		{"preflight", http.MethodOptions, "http://localhost:5173", http.StatusNoContent, "http://localhost:5173"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/jobs", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Fatalf("allow origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}

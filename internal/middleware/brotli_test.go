package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

func TestBrotli(t *testing.T) {
	gin.SetMode(gin.TestMode)
	long := strings.Repeat("hasil ujian ", 500)

	r := gin.New()
	r.Use(BrotliWithConfig(BrotliConfig{Quality: 4, MinLength: 256}))
	r.GET("/long", func(c *gin.Context) { c.String(http.StatusOK, long) })
	r.GET("/short", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	tests := []struct {
		name        string
		path        string
		accept      string
		wantEncoded bool
		wantBody    string
	}{
		{"long body compressed", "/long", "gzip, br", true, long},
		{"short body passed through", "/short", "br", false, "ok"},
		{"client without br", "/long", "gzip", false, long},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Accept-Encoding", tt.accept)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			encoded := w.Header().Get("Content-Encoding") == "br"
			if encoded != tt.wantEncoded {
				t.Fatalf("Content-Encoding br = %v, want %v", encoded, tt.wantEncoded)
			}

			var body io.Reader = w.Body
			if encoded {
				body = brotli.NewReader(w.Body)
			}
			got, err := io.ReadAll(body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			if string(got) != tt.wantBody {
				t.Errorf("body mismatch: got %d bytes, want %d", len(got), len(tt.wantBody))
			}
		})
	}
}

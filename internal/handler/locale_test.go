package handler

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goaly/internal/app"
	"github.com/goaly/internal/db"
	"github.com/goaly/internal/service"
	"github.com/rs/zerolog"
)

func TestLocaleMiddlewareResolvesLanguage(t *testing.T) {
	gin.SetMode(gin.TestMode)

	gdb, err := db.Open(filepath.Join(t.TempDir(), "goaly.db"), db.Options{Silent: true})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gdb) })
	application := app.New(app.Options{DB: gdb, Logger: zerolog.Nop()})
	if err := application.Load(); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	api := NewAPI(gdb, application, nil, nil, zerolog.Nop())
	r := gin.New()
	r.Use(api.LocaleMiddleware())
	r.GET("/lang", func(c *gin.Context) {
		c.String(http.StatusOK, RequestLanguage(c))
	})

	serve := func(path, header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if header != "" {
			req.Header.Set("Accept-Language", header)
		}
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	tests := []struct {
		name   string
		path   string
		header string
		want   string
	}{
		{name: "settings default", path: "/lang", want: "en"},
		{name: "accept language", path: "/lang", header: "fr-FR, de-DE;q=0.8", want: "de"},
		{name: "query wins", path: "/lang?lang=zh-Hans", header: "de-DE", want: "zh"},
		{name: "unknown query ignored", path: "/lang?lang=xx", header: "de", want: "de"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(tc.path, tc.header)
			if rr.Body.String() != tc.want || rr.Header().Get("Content-Language") != tc.want {
				t.Fatalf("expected %q, got body %q header %q", tc.want, rr.Body.String(), rr.Header().Get("Content-Language"))
			}
			if rr.Header().Get("Vary") != "Accept-Language" {
				t.Fatalf("expected Vary header, got %q", rr.Header().Get("Vary"))
			}
		})
	}

	lang := "de"
	if _, err := application.UpdateSettings(service.SettingsInput{Language: &lang}); err != nil {
		t.Fatalf("UpdateSettings returned error: %v", err)
	}
	if rr := serve("/lang", ""); rr.Body.String() != "de" {
		t.Fatalf("expected configured language, got %q", rr.Body.String())
	}
}

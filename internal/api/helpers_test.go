package api

import (
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/twin/internal/catalog"
	"github.com/kalambet/twin/internal/persona"
	"github.com/kalambet/twin/internal/pipeline"
	"github.com/kalambet/twin/internal/profile"
	"github.com/kalambet/twin/internal/storage"
)

const testToken = "test-token-12345"

func setupPipeline(t *testing.T) (*pipeline.Pipeline, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cat, err := catalog.New(store)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	eng := persona.NewEngine(cat, persona.WithRandSource(rand.NewPCG(7, 11)))
	mgr := profile.NewManager(store, time.Minute)
	return pipeline.New(eng, cat, mgr, store, nil), store
}

func setupAppHandler(t *testing.T, token string) (http.Handler, *pipeline.Pipeline) {
	t.Helper()
	pipe, _ := setupPipeline(t)
	return NewAppHandler(AppDeps{Pipeline: pipe, Token: token}), pipe
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

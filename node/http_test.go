package node

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeStatus struct {
	height   uint64
	role     string
	caughtUp bool
}

func (f fakeStatus) Height() uint64 { return f.height }
func (f fakeStatus) Role() string   { return f.role }
func (f fakeStatus) CaughtUp() bool { return f.caughtUp }

func TestHealthzReportsHeightAndRole(t *testing.T) {
	router := NewOpsRouter(fakeStatus{height: 42, role: "validator", caughtUp: true})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"height":42`) || !strings.Contains(rec.Body.String(), `"role":"validator"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestReadyzReflectsCaughtUpState(t *testing.T) {
	router := NewOpsRouter(fakeStatus{height: 10, role: "observer", caughtUp: false})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while not caught up, got %d", rec.Code)
	}

	router = NewOpsRouter(fakeStatus{height: 10, role: "observer", caughtUp: true})
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 once caught up, got %d", rec.Code)
	}
}

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	r := New(reg)
	r.IncInject("hit")
	r.IncInject("hit")
	r.IncInject("no_siblings")
	r.ObserveResolve(15 * time.Millisecond)
	r.IncProxy(true)

	if got := testutil.ToFloat64(r.injections.WithLabelValues("hit")); got != 2 {
		t.Errorf("expected 2 hits, got %v", got)
	}
	if got := testutil.ToFloat64(r.proxyRequests.WithLabelValues("true")); got != 1 {
		t.Errorf("expected 1 rewritten response, got %v", got)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatalf("expected metrics, got none")
	}
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.IncInject("hit")
	r.ObserveResolve(time.Second)
	r.IncProxy(false)
	if r.Registry() != nil {
		t.Error("nil recorder should have no registry")
	}
}

func TestHandler(t *testing.T) {
	r := New(nil)
	r.IncInject("miss")

	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `hublinks_inject_total{outcome="miss"} 1`) {
		t.Errorf("metrics output missing inject counter:\n%s", w.Body.String())
	}
}

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

func TestRecorderCounts(t *testing.T) {
	r := New()
	r.TaskFinished("buy", 3, false)
	r.TaskFinished("buy", 6, true)
	r.Decision("BUY")
	r.Skipped("allocation", "insufficient")
	r.Spend("trade", decimal.RequireFromString("12.5"))

	if got := testutil.ToFloat64(r.tasks.WithLabelValues("buy", "abandoned")); got != 1 {
		t.Fatalf("expected 1 abandoned buy, got %v", got)
	}
	if got := testutil.ToFloat64(r.attempts.WithLabelValues("buy")); got != 9 {
		t.Fatalf("expected 9 attempts, got %v", got)
	}
	if got := testutil.ToFloat64(r.spend.WithLabelValues("trade")); got != 12.5 {
		t.Fatalf("expected trade spend 12.5, got %v", got)
	}
}

func TestRecorderPush(t *testing.T) {
	var body string
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		path = req.URL.Path
		data, _ := io.ReadAll(req.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	r := New()
	r.Decision("SELL")
	r.RunFinished(time.Unix(1700000000, 0))
	if err := r.Push(server.URL, "rebalancer"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if !strings.HasPrefix(path, "/metrics/job/rebalancer") {
		t.Fatalf("unexpected push path %q", path)
	}
	if body == "" {
		t.Fatalf("expected metrics in push body")
	}
}

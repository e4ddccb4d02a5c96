package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("NewLogger", func() {
	It("writes JSON tagged with the service", func() {
		var buf bytes.Buffer
		logger := NewLogger(&buf, "info", "json", "receiptfly-worker")
		logger.Info("Job completed", "job_id", "j1")

		var line map[string]any
		Expect(json.Unmarshal(buf.Bytes(), &line)).To(Succeed())
		Expect(line).To(HaveKeyWithValue("service", "receiptfly-worker"))
		Expect(line).To(HaveKeyWithValue("job_id", "j1"))
		Expect(line).To(HaveKeyWithValue("msg", "Job completed"))
	})

	It("filters below the configured level", func() {
		var buf bytes.Buffer
		logger := NewLogger(&buf, "warn", "text", "")
		logger.Info("hidden")
		logger.Warn("shown")
		Expect(buf.String()).NotTo(ContainSubstring("hidden"))
		Expect(buf.String()).To(ContainSubstring("shown"))
		Expect(buf.String()).To(ContainSubstring("service=receiptfly"))
	})

	DescribeTable("ParseLevel",
		func(in string, want slog.Level) {
			Expect(ParseLevel(in)).To(Equal(want))
		},
		Entry("debug", "DEBUG", slog.LevelDebug),
		Entry("warning", "warning", slog.LevelWarn),
		Entry("error", " error ", slog.LevelError),
		Entry("unknown", "chatty", slog.LevelInfo),
	)
})

var _ = Describe("InitTracing", func() {
	It("is a no-op without an endpoint", func() {
		shutdown, err := InitTracing(context.Background(), "", "receiptfly")
		Expect(err).NotTo(HaveOccurred())
		Expect(shutdown(context.Background())).To(Succeed())
	})
})

var _ = Describe("metrics", func() {
	DescribeTable("RouteLabel",
		func(path, want string) {
			Expect(RouteLabel(path)).To(Equal(want))
		},
		Entry("root", "", "/"),
		Entry("list", "/api/receipts", "/api/receipts"),
		Entry("receipt id", "/api/receipts/receipt-123", "/api/receipts/:id"),
		Entry("uploads", "/api/receipts/uploads", "/api/receipts/uploads"),
		Entry("export", "/api/receipts/export.xlsx", "/api/receipts/export.xlsx"),
		Entry("jobs", "/api/jobs", "/api/jobs"),
	)

	scrape := func() string {
		rec := httptest.NewRecorder()
		MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		return rec.Body.String()
	}

	It("counts requests by route and status", func() {
		h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/receipts/abc", nil))
		Expect(scrape()).To(ContainSubstring(`receiptfly_http_requests_total{code="418",method="GET",route="/api/receipts/:id"} 1`))
	})

	It("counts jobs by result and kind", func() {
		RecordJob("failed", "ObsTestKind", 2*time.Second)
		ObserveStage("obs-test", time.Second)
		body := scrape()
		Expect(body).To(ContainSubstring(`receiptfly_ingest_jobs_total{kind="ObsTestKind",result="failed"} 1`))
		Expect(body).To(ContainSubstring(`receiptfly_ingest_stage_duration_seconds_count{stage="obs-test"} 1`))
	})

	It("exposes the app info gauge", func() {
		SetAppInfo("receiptfly", "")
		Expect(scrape()).To(ContainSubstring(`receiptfly_app_info{service="receiptfly",version="dev"} 1`))
	})
})

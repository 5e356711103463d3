package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/V4T54L/logpipe/internal/adapter/api/handler"
	"github.com/V4T54L/logpipe/internal/adapter/api/middleware"
	"github.com/V4T54L/logpipe/internal/adapter/metrics"
	"github.com/V4T54L/logpipe/internal/domain/mocks"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type testServer struct {
	router    http.Handler
	publisher *mocks.MockLogPublisher
	metrics   *metrics.PipelineMetrics
}

func newTestServer(failOpen bool, publishErr error) *testServer {
	reg := prometheus.NewRegistry()
	m := metrics.NewPipelineMetrics(reg)
	publisher := &mocks.MockLogPublisher{Err: publishErr}
	shop := handler.NewShopHandler(handler.NewSeededStore(), publisher, m, testLogger, failOpen)
	return &testServer{
		router:    NewRouter(shop, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), testLogger),
		publisher: publisher,
		metrics:   m,
	}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func TestRouter_Routes(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		expectedStatus int
		expectedBody   string
		eventEndpoint  string
		eventDetails   string
	}{
		{
			name:           "List Users",
			method:         http.MethodGet,
			path:           "/api/users",
			expectedStatus: http.StatusOK,
			expectedBody:   `[{"id":1,"name":"akshay"},{"id":2,"name":"adarsh"},{"id":3,"name":"abhinav"},{"id":4,"name":"abhijan"}]`,
			eventEndpoint:  "/api/users",
			eventDetails:   "Displaying the Users!",
		},
		{
			name:           "Get User",
			method:         http.MethodGet,
			path:           "/api/users/2",
			expectedStatus: http.StatusOK,
			expectedBody:   `{"id":2,"name":"adarsh"}`,
			eventEndpoint:  "/api/users/2",
			eventDetails:   "Fetching user details!",
		},
		{
			name:           "Unknown User",
			method:         http.MethodGet,
			path:           "/api/users/42",
			expectedStatus: http.StatusNotFound,
			expectedBody:   `{"error":"User not found"}`,
			eventEndpoint:  "/api/users/42",
			eventDetails:   "User Not Found!",
		},
		{
			name:           "Non Numeric User",
			method:         http.MethodGet,
			path:           "/api/users/abc",
			expectedStatus: http.StatusNotFound,
			expectedBody:   `{"error":"User not found"}`,
			eventEndpoint:  "/api/users/abc",
			eventDetails:   "User Not Found!",
		},
		{
			name:           "List Orders",
			method:         http.MethodGet,
			path:           "/api/orders",
			expectedStatus: http.StatusOK,
			expectedBody:   `[{"id":1,"product":"Laptop","quantity":2},{"id":2,"product":"TV","quantity":1}]`,
			eventEndpoint:  "/api/orders",
			eventDetails:   "Displaying the Orders!",
		},
		{
			name:           "Get Order",
			method:         http.MethodGet,
			path:           "/api/orders/1",
			expectedStatus: http.StatusOK,
			expectedBody:   `{"id":1,"product":"Laptop","quantity":2}`,
			eventEndpoint:  "/api/orders/1",
			eventDetails:   "Fetching order details!",
		},
		{
			name:           "Unknown Order",
			method:         http.MethodGet,
			path:           "/api/orders/9",
			expectedStatus: http.StatusNotFound,
			expectedBody:   `{"error":"Order not found"}`,
			eventEndpoint:  "/api/orders/9",
			eventDetails:   "Order Not Found!",
		},
		{
			name:           "List Products",
			method:         http.MethodGet,
			path:           "/api/products",
			expectedStatus: http.StatusOK,
			expectedBody:   `["laptop","TV","Phone","Bag"]`,
			eventEndpoint:  "/api/products",
			eventDetails:   "Displaying the products",
		},
		{
			name:           "Create Order",
			method:         http.MethodPost,
			path:           "/api/orders",
			body:           `{"product":"Phone","quantity":3}`,
			expectedStatus: http.StatusCreated,
			expectedBody:   `{"id":3,"product":"Phone","quantity":3}`,
			eventEndpoint:  "/api/orders",
			eventDetails:   `{"id":3,"product":"Phone","quantity":3}`,
		},
		{
			name:           "Create Order Missing Quantity",
			method:         http.MethodPost,
			path:           "/api/orders",
			body:           `{"product":"Phone"}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"Insufficient Items"}`,
			eventEndpoint:  "/api/orders",
			eventDetails:   "Insufficient Items",
		},
		{
			name:           "Create Order Bad JSON",
			method:         http.MethodPost,
			path:           "/api/orders",
			body:           `{"product":`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"Insufficient Items"}`,
			eventEndpoint:  "/api/orders",
			eventDetails:   "Insufficient Items",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(true, nil)

			rr := s.do(tt.method, tt.path, tt.body)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if got := strings.TrimSpace(rr.Body.String()); got != tt.expectedBody {
				t.Errorf("expected body %s, got %s", tt.expectedBody, got)
			}
			if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected JSON content type, got %q", ct)
			}

			events := s.publisher.Events()
			if len(events) != 1 {
				t.Fatalf("expected 1 published event, got %d", len(events))
			}
			event := events[0]
			if event.Endpoint != tt.eventEndpoint || event.Method != tt.method || event.Status != tt.expectedStatus {
				t.Errorf("unexpected event %+v", event)
			}
			if event.DetailsOrEmpty() != tt.eventDetails {
				t.Errorf("expected details %q, got %q", tt.eventDetails, event.DetailsOrEmpty())
			}
		})
	}
}

func TestRouter_CountsPublishedRequests(t *testing.T) {
	s := newTestServer(true, nil)

	s.do(http.MethodGet, "/api/users", "")
	s.do(http.MethodGet, "/api/users", "")
	s.do(http.MethodGet, "/api/users/42", "")

	if got := testutil.ToFloat64(s.metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/users", "200")); got != 2 {
		t.Errorf("expected 2 requests counted, got %v", got)
	}
	if got := testutil.ToFloat64(s.metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/users/42", "404")); got != 1 {
		t.Errorf("expected 1 not-found request counted, got %v", got)
	}

	rr := s.do(http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected metrics endpoint to respond 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `http_requests_total{endpoint="/api/users",method="GET",status="200"} 2`) {
		t.Errorf("metrics output does not contain the request counter:\n%s", rr.Body.String())
	}
}

func TestRouter_PublishFailure(t *testing.T) {
	errDown := errors.New("broker down")

	t.Run("Fail Open", func(t *testing.T) {
		s := newTestServer(true, errDown)

		rr := s.do(http.MethodGet, "/api/products", "")
		if rr.Code != http.StatusOK {
			t.Errorf("expected request to be served, got %d", rr.Code)
		}
		if got := testutil.ToFloat64(s.metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/products", "200")); got != 0 {
			t.Errorf("unpublished request must not be counted, got %v", got)
		}
	})

	t.Run("Fail Closed", func(t *testing.T) {
		s := newTestServer(false, errDown)

		rr := s.do(http.MethodGet, "/api/products", "")
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", rr.Code)
		}

		rr = s.do(http.MethodPost, "/api/orders", `{"product":"Bag","quantity":1}`)
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", rr.Code)
		}
	})
}

func TestRouter_HealthAndRequestID(t *testing.T) {
	s := newTestServer(true, nil)

	rr := s.do(http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "OK" {
		t.Errorf("unexpected health response %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected a generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-123")
	rr = httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	if got := rr.Header().Get(middleware.RequestIDHeader); got != "req-123" {
		t.Errorf("expected request id to be echoed, got %q", got)
	}

	if len(s.publisher.Events()) != 0 {
		t.Error("health checks must not publish log events")
	}
}

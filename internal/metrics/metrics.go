// Package metrics collects Prometheus counters for auth, task and HTTP events.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Task operation labels.
const (
	TaskCreate = "create"
	TaskList   = "list"
	TaskUpdate = "update"
	TaskDelete = "delete"
)

// Recorder is what services and middleware depend on. Collector is the
// Prometheus implementation; Nop is used when metrics aren't wired (tests).
type Recorder interface {
	RecordRegistration()
	RecordLogin(success bool)
	RecordOTPIssued()
	RecordPasswordReset(success bool)
	RecordTaskOp(op string)
	RecordOwnershipDenied()
	RecordHTTPStatus(statusCode int)
	RecordRequestDuration(d time.Duration)
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	registrations   prometheus.Counter
	logins          *prometheus.CounterVec
	otpIssued       prometheus.Counter
	passwordResets  *prometheus.CounterVec
	taskOps         *prometheus.CounterVec
	ownershipDenied prometheus.Counter
	httpStatus      *prometheus.CounterVec
	requestDuration prometheus.Histogram
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "todo_registrations_total",
			Help: "Accounts created.",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todo_logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		otpIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "todo_otp_issued_total",
			Help: "Password reset codes issued.",
		}),
		passwordResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todo_password_resets_total",
			Help: "Password reset completions by result.",
		}, []string{"result"}),
		taskOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todo_task_operations_total",
			Help: "Successful task operations by kind.",
		}, []string{"op"}),
		ownershipDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "todo_task_ownership_denied_total",
			Help: "Task mutations rejected because the caller is not the owner.",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todo_http_status_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "todo_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.registrations,
		c.logins,
		c.otpIssued,
		c.passwordResets,
		c.taskOps,
		c.ownershipDenied,
		c.httpStatus,
		c.requestDuration,
	)
	return c
}

func (c *Collector) RecordRegistration() { c.registrations.Inc() }

func (c *Collector) RecordLogin(success bool) { c.logins.WithLabelValues(result(success)).Inc() }

func (c *Collector) RecordOTPIssued() { c.otpIssued.Inc() }

func (c *Collector) RecordPasswordReset(success bool) {
	c.passwordResets.WithLabelValues(result(success)).Inc()
}

func (c *Collector) RecordTaskOp(op string) { c.taskOps.WithLabelValues(op).Inc() }

func (c *Collector) RecordOwnershipDenied() { c.ownershipDenied.Inc() }

func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

func (c *Collector) RecordRequestDuration(d time.Duration) {
	c.requestDuration.Observe(d.Seconds())
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Nop discards everything.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) RecordRegistration()                 {}
func (Nop) RecordLogin(bool)                    {}
func (Nop) RecordOTPIssued()                    {}
func (Nop) RecordPasswordReset(bool)            {}
func (Nop) RecordTaskOp(string)                 {}
func (Nop) RecordOwnershipDenied()              {}
func (Nop) RecordHTTPStatus(int)                {}
func (Nop) RecordRequestDuration(time.Duration) {}

// OrNop returns r, or Nop if r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

package framework

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

var dbQueryDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "behave_db_query_duration_seconds",
		Help:    "Database statement duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"op"},
)

func init() {
	prometheus.MustRegister(dbQueryDuration)
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordDBQuery records a metric for a database statement.
func RecordDBQuery(op string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(op).Observe(duration.Seconds())
}

const startedKey = "behave:metrics:started"

// QueryMetrics is a GORM plugin timing every statement.
type QueryMetrics struct{}

func (QueryMetrics) Name() string { return "behave:metrics" }

func (QueryMetrics) Initialize(db *gorm.DB) error {
	start := func(tx *gorm.DB) { tx.InstanceSet(startedKey, time.Now()) }
	stop := func(op string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			if v, ok := tx.InstanceGet(startedKey); ok {
				RecordDBQuery(op, time.Since(v.(time.Time)))
			}
		}
	}

	cb := db.Callback()
	if err := cb.Create().Before("*").Register("behave:metrics:create_start", start); err != nil {
		return err
	}
	if err := cb.Create().After("*").Register("behave:metrics:create_stop", stop("create")); err != nil {
		return err
	}
	if err := cb.Query().Before("*").Register("behave:metrics:query_start", start); err != nil {
		return err
	}
	if err := cb.Query().After("*").Register("behave:metrics:query_stop", stop("query")); err != nil {
		return err
	}
	if err := cb.Update().Before("*").Register("behave:metrics:update_start", start); err != nil {
		return err
	}
	if err := cb.Update().After("*").Register("behave:metrics:update_stop", stop("update")); err != nil {
		return err
	}
	if err := cb.Delete().Before("*").Register("behave:metrics:delete_start", start); err != nil {
		return err
	}
	if err := cb.Delete().After("*").Register("behave:metrics:delete_stop", stop("delete")); err != nil {
		return err
	}
	if err := cb.Row().Before("*").Register("behave:metrics:row_start", start); err != nil {
		return err
	}
	if err := cb.Row().After("*").Register("behave:metrics:row_stop", stop("row")); err != nil {
		return err
	}
	if err := cb.Raw().Before("*").Register("behave:metrics:raw_start", start); err != nil {
		return err
	}
	return cb.Raw().After("*").Register("behave:metrics:raw_stop", stop("raw"))
}

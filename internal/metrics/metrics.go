// Package metrics holds the Prometheus collectors exported at /metrics.
// Collectors register on the default registry at init through promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blog_http_requests_total",
		Help: "HTTP requests by method, route pattern and status code.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blog_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	RegistrationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blog_registrations_total",
		Help: "Accounts created, by password or GitHub.",
	})

	// LoginsTotal result is one of: success, invalid, throttled.
	LoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blog_logins_total",
		Help: "Login attempts by result.",
	}, []string{"result"})

	// FollowOpsTotal op is follow or unfollow.
	FollowOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blog_follow_operations_total",
		Help: "Follow and unfollow operations.",
	}, []string{"op"})

	// PostsTotal op is create or edit.
	PostsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blog_posts_total",
		Help: "Posts created and edited.",
	}, []string{"op"})

	MailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blog_mails_total",
		Help: "Outgoing mails by result (sent, failed, logged).",
	}, []string{"result"})
)

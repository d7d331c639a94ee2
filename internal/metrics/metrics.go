// Package metrics exports poller, rotator, coordinator and notifier activity
// as Prometheus collectors on a private registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"attendsync/internal/camera"
)

const namespace = "attendsync"

type Metrics struct {
	registry *prometheus.Registry

	polls         *prometheus.CounterVec
	pollNewItems  *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	cameraState   *prometheus.GaugeVec
	releaseWarns  prometheus.Counter
	announcements *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Poll attempts by feed and result.",
		}, []string{"feed", "result"}),
		pollNewItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_new_items_total",
			Help:      "Items reported as new by each feed.",
		}, []string{"feed"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Session token refresh attempts by result.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "camera_transitions_total",
			Help:      "Camera ownership state transitions.",
		}, []string{"from", "to"}),
		cameraState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "camera_state",
			Help:      "1 for the camera's current ownership state, 0 otherwise.",
		}, []string{"state"}),
		releaseWarns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "camera_remote_release_failures_total",
			Help:      "Hand-offs that completed despite a failed remote release.",
		}),
		announcements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_total",
			Help:      "Verified-student announcements by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.polls, m.pollNewItems, m.refreshes, m.transitions,
		m.cameraState, m.releaseWarns, m.announcements,
	)
	m.setCameraState(camera.StateIdle)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObservePoll(feed string, newItems int, err error) {
	m.polls.WithLabelValues(feed, result(err)).Inc()
	if newItems > 0 {
		m.pollNewItems.WithLabelValues(feed).Add(float64(newItems))
	}
}

func (m *Metrics) ObserveRefresh(_ string, err error) {
	m.refreshes.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) CameraTransition(from, to camera.Ownership) {
	m.transitions.WithLabelValues(string(from.State), string(to.State)).Inc()
	m.setCameraState(to.State)
	if from.State == camera.StateReleasing && to.State == camera.StateIdle && to.Warning != "" {
		m.releaseWarns.Inc()
	}
}

func (m *Metrics) ObserveAnnouncement(err error) {
	m.announcements.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) setCameraState(current camera.State) {
	for _, s := range camera.States() {
		v := 0.0
		if s == current {
			v = 1
		}
		m.cameraState.WithLabelValues(string(s)).Set(v)
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

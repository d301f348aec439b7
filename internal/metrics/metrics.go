package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	UnlockAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stamprally_unlock_attempts_total",
		Help: "Unlock attempts by outcome (passed, failed, no_readings, precondition, invalid)",
	}, []string{"outcome"})
	SampleReadingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stamprally_sample_readings_total",
		Help: "Location sampling slots by outcome (ok, failed)",
	}, []string{"outcome"})
	GateFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stamprally_gate_failures_total",
		Help: "Proximity gate failures by reason",
	}, []string{"reason"})
	DistanceMeters = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stamprally_unlock_distance_meters",
		Help:    "Distance between aggregated position and spot at unlock time",
		Buckets: []float64{5, 10, 25, 50, 100, 200, 500, 1000, 5000},
	})
	QuizRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stamprally_quiz_runs_total",
		Help: "Finished quiz runs by result (passed, failed)",
	}, []string{"result"})
	StampsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stamprally_stamps_total",
		Help: "Stamps newly acquired",
	})
	ActivePlayers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stamprally_active_players",
		Help: "Players with a loaded stamp document",
	})
)

func init() {
	prometheus.MustRegister(UnlockAttemptsTotal)
	prometheus.MustRegister(SampleReadingsTotal)
	prometheus.MustRegister(GateFailuresTotal)
	prometheus.MustRegister(DistanceMeters)
	prometheus.MustRegister(QuizRunsTotal)
	prometheus.MustRegister(StampsTotal)
	prometheus.MustRegister(ActivePlayers)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

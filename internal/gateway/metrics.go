package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Outbound payment provider requests by client, method and outcome",
		},
		[]string{"client", "method", "outcome"},
	)

	requestsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_requests_in_flight",
			Help: "Gauge that holds the current number of outbound payment provider requests",
		},
		[]string{"client"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, requestsInFlight)
}

// Outcome возвращает метку результата вызова для метрик.
func Outcome(err error) string {
	switch Classify(err) {
	case KindNone:
		return "ok"
	case KindTransient:
		return "transient"
	case KindRejected:
		return "rejected"
	case KindTimeout:
		return "timeout"
	default:
		return "error"
	}
}

// Track учитывает исходящий вызов клиента client в метриках. Вызывающий обязан вызвать
// возвращённую функцию с итоговой ошибкой.
func Track(client, method string) func(err error) {
	requestsInFlight.WithLabelValues(client).Inc()
	return func(err error) {
		requestsInFlight.WithLabelValues(client).Dec()
		requestsTotal.WithLabelValues(client, method, Outcome(err)).Inc()
	}
}

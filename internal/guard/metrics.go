package guard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sessionValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "console_session_validations_total",
	Help: "Session validations by outcome",
}, []string{"outcome"})

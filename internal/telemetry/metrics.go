package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PropertyMutations counts pipeline outcomes by origin and result.
	PropertyMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagesync_property_mutations_total",
		Help: "Property mutations by origin (local, remote) and result (applied, rejected)",
	}, []string{"origin", "result"})

	// OwnershipTransitions counts local ownership state changes by target state.
	OwnershipTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagesync_ownership_transitions_total",
		Help: "Ownership state transitions by target state",
	}, []string{"state"})

	OwnershipTransferFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stagesync_ownership_transfer_failures_total",
		Help: "Ownership transfers reported as failed by the transport",
	})

	HandleConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stagesync_handle_conflicts_total",
		Help: "Handle allocations that lost a race and adopted the room store value",
	})

	RelayConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stagesync_relay_connections",
		Help: "Participants currently connected to the relay",
	})

	RelayFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagesync_relay_frames_total",
		Help: "Frames handled by the relay by operation",
	}, []string{"op"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}

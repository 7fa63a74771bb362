package metrics

import (
	"strconv"

	"github.com/tickerfan/tickerfan/internal/pluginapi"
	"github.com/tickerfan/tickerfan/internal/streaming"
	"github.com/tickerfan/tickerfan/internal/viewkey"
)

// StreamingHooks wires a Registry into streaming.Manager's hook points.
// Manager calls these synchronously on its own goroutines, so they must
// stay non-blocking; prometheus collectors already are.
func (m *Registry) StreamingHooks() streaming.Hooks {
	return streaming.Hooks{
		OnActivate: func(kind viewkey.Kind, mode streaming.Mode) {
			m.StreamActivations.WithLabelValues(string(kind), string(mode)).Inc()
		},
		OnPublish: func(kind viewkey.Kind, suppressed bool) {
			m.PollCycles.WithLabelValues(string(kind)).Inc()
			m.PublishesTotal.WithLabelValues(string(kind), strconv.FormatBool(suppressed)).Inc()
		},
		OnPollError: func(kind viewkey.Kind, errKind pluginapi.ErrorKind) {
			m.PluginErrors.WithLabelValues(string(kind), string(errKind)).Inc()
		},
	}
}

package decisionapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmfontes/skuld/internal/logger"
	"github.com/dmfontes/skuld/internal/observability"
)

// handleStream serves GET /api/v1/stream: a long-lived server-sent event
// channel delivering the project's change-bus frames. A client that
// disconnects misses events and must re-bootstrap on reconnect; there is no
// replay buffer.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	principal := principalFrom(r.Context())
	log := logger.FromContext(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := a.events.Subscribe(r.Context(), principal.ProjectKey)

	observability.StreamSubscribers.Inc()
	defer observability.StreamSubscribers.Dec()

	log.Info("subscribe stream opened", slog.String("project", principal.ProjectKey))
	defer log.Info("subscribe stream closed", slog.String("project", principal.ProjectKey))

	ping := time.NewTicker(time.Duration(a.streamPingSeconds) * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-ping.C:
			// Comment frames keep intermediaries from dropping the idle
			// connection.
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := event.Encode()
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: change\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

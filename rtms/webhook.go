package rtms

import (
	"io"
	"net/http"

	"github.com/charmbracelet/log"
)

const maxWebhookBody = 1 << 20

// WebhookHandler accepts platform lifecycle events over HTTP. Only session
// start and stop are forwarded; media belongs on the websocket link.
func WebhookHandler(sink Sink, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}

		sig, err := ParseSignal(body)
		if err != nil {
			logger.Warn("bad webhook", "error", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		switch s := sig.(type) {
		case Start, Stop:
			sink.Deliver(s)
		case Ignored:
			logger.Info("ignoring webhook event", "event", s.Kind)
		default:
			http.Error(w, "only lifecycle events are accepted", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

package httphandler

import (
	"errors"
	"io"
	"net/http"

	"github.com/ericfisherdev/snapgate/internal/application"
)

// Webhook request headers.
const (
	signatureHeader = "X-Visual-Signature"
	eventHeader     = "X-Visual-Event"
)

// maxWebhookBody caps inbound webhook payloads.
const maxWebhookBody = 1 << 20

// IngestWebhook accepts an event from the visual-diff service. Events that
// match no project, or fail while processing, are still acknowledged with
// processed=false so the sender does not retry.
func (h *Handler) IngestWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "webhook payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	out, err := h.webhooks.Ingest(r.Context(), application.WebhookDelivery{
		Payload:   body,
		Signature: r.Header.Get(signatureHeader),
		EventType: r.Header.Get(eventHeader),
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to ingest webhook")
		return
	}

	message := "event ignored"
	if out.Processed {
		message = "event processed"
	}
	writeJSON(w, http.StatusOK, WebhookResponse{Message: message, Processed: out.Processed})
}

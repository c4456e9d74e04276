package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/origen-labs/voicebridge/internal/bridge"
	"github.com/origen-labs/voicebridge/internal/call"
	"github.com/origen-labs/voicebridge/internal/config"
	"github.com/origen-labs/voicebridge/internal/observability"
	"github.com/origen-labs/voicebridge/internal/telnyx"
	"github.com/origen-labs/voicebridge/internal/transcript"
)

// CallControl is the slice of the call-control API the webhook needs.
type CallControl interface {
	Answer(ctx context.Context, callControlID string) error
	StreamingStart(ctx context.Context, callControlID string, req telnyx.StreamingStartRequest) error
}

// MediaBridge runs one full call session over an accepted media websocket.
type MediaBridge interface {
	Run(ctx context.Context, tel bridge.TelephonyConn)
}

type Server struct {
	cfg         config.Config
	control     CallControl
	bridge      MediaBridge
	calls       *call.Manager
	transcripts transcript.Store
	metrics     *observability.Metrics
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, control CallControl, bridge MediaBridge, calls *call.Manager, transcripts transcript.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:         cfg,
		control:     control,
		bridge:      bridge,
		calls:       calls,
		transcripts: transcripts,
		metrics:     metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The media socket is dialed by the telephony provider, not a
			// browser; there is no origin to enforce.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/webhook", s.handleWebhook)
	r.Get("/telnyx_media", s.handleMediaSocket)
	r.Get("/calls/{call_control_id}/transcript", s.handleTranscript)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"active_calls": s.calls.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"active_calls": s.calls.ActiveCount(),
	})
}

type webhookEvent struct {
	Data struct {
		EventType  string `json:"event_type"`
		Type       string `json:"type"`
		RecordType string `json:"record_type"`
		Payload    struct {
			CallControlID string `json:"call_control_id"`
		} `json:"payload"`
	} `json:"data"`
}

// handleWebhook answers inbound calls and points media streaming at this
// service. Telnyx retries on non-2xx, so anything we choose to skip is
// still acknowledged with 200.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var event webhookEvent
	if err := decodeJSON(r, &event); err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"status": "ignored", "reason": "invalid body"})
		return
	}

	evType := event.Data.EventType
	if evType == "" {
		evType = event.Data.Type
	}
	if evType == "" {
		evType = event.Data.RecordType
	}
	callControlID := event.Data.Payload.CallControlID

	if callControlID == "" {
		log.Printf("httpapi: webhook %q without call_control_id", evType)
		respondJSON(w, http.StatusOK, map[string]any{"status": "ignored", "reason": "missing call_control_id"})
		return
	}

	switch evType {
	case "call.initiated":
		s.metrics.CallEvents.WithLabelValues("initiated").Inc()
		if err := s.answerAndStream(r.Context(), callControlID); err != nil {
			log.Printf("httpapi: setting up call %s: %v", callControlID, err)
			s.metrics.CallActions.WithLabelValues("answer", "failed").Inc()
			respondJSON(w, http.StatusOK, map[string]any{"status": "error", "reason": err.Error()})
			return
		}
		s.metrics.CallActions.WithLabelValues("answer", "ok").Inc()
	case "call.hangup":
		log.Printf("httpapi: call %s ended", callControlID)
		s.metrics.CallEvents.WithLabelValues("hangup").Inc()
	default:
		log.Printf("httpapi: ignoring webhook %q for %s", evType, callControlID)
	}

	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) answerAndStream(ctx context.Context, callControlID string) error {
	log.Printf("httpapi: answering call %s", callControlID)
	if err := s.control.Answer(ctx, callControlID); err != nil {
		return fmt.Errorf("answer: %w", err)
	}

	streamURL := fmt.Sprintf("wss://%s/telnyx_media", s.cfg.PublicDomain)
	err := s.control.StreamingStart(ctx, callControlID, telnyx.StreamingStartRequest{
		StreamURL:                streamURL,
		StreamTrack:              "inbound_track",
		StreamBidirectionalMode:  "rtp",
		StreamBidirectionalCodec: "PCMU",
	})
	if err != nil {
		return fmt.Errorf("streaming_start: %w", err)
	}
	log.Printf("httpapi: started media streaming for call %s", callControlID)
	return nil
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	callControlID := chi.URLParam(r, "call_control_id")

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondJSON(w, http.StatusBadRequest, map[string]any{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	entries, err := s.transcripts.Recent(r.Context(), callControlID, limit)
	if err != nil {
		log.Printf("httpapi: transcript lookup for %s: %v", callControlID, err)
		respondJSON(w, http.StatusInternalServerError, map[string]any{"error": "transcript lookup failed"})
		return
	}
	if entries == nil {
		entries = []transcript.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"call_control_id": callControlID,
		"entries":         entries,
	})
}

func (s *Server) handleMediaSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("httpapi: media socket upgrade failed: %v", err)
		return
	}
	log.Printf("httpapi: media websocket connection accepted")
	s.bridge.Run(r.Context(), conn)
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return fmt.Errorf("empty body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/wa-ai-bot-go/internal/transport"
)

// inboundEvent is the wire shape of one message in a webhook batch.
type inboundEvent struct {
	ChatID       string   `json:"chat_id"`
	SenderID     string   `json:"sender_id"`
	SenderName   string   `json:"sender_name"`
	IsGroup      bool     `json:"is_group"`
	Text         string   `json:"text"`
	MentionedIDs []string `json:"mentioned_ids,omitempty"`
}

type batchPayload struct {
	Events []inboundEvent `json:"events"`
}

// Server accepts inbound messages over HTTP instead of a live WhatsApp
// session. GET performs the verification handshake, POST delivers a batch.
type Server struct {
	verifyToken string
	handler     transport.Handler
	logger      *logrus.Logger
	srv         *http.Server
}

func NewServer(port int, verifyToken string, handler transport.Handler, logger *logrus.Logger) *Server {
	s := &Server{
		verifyToken: verifyToken,
		handler:     handler,
		logger:      logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/webhook", s.handleVerify).Methods(http.MethodGet)
	router.HandleFunc("/webhook", s.handleBatch).Methods(http.MethodPost)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving webhook traffic until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Close() error {
	return s.srv.Close()
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == s.verifyToken {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	s.logger.WithField("remote", r.RemoteAddr).Warn("webhook verification rejected")
	http.Error(w, "verification failed", http.StatusForbidden)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.WithField("panic", rec).Error("webhook handler panicked")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
		}
	}()

	var batch batchPayload
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error"})
		return
	}

	for _, evt := range batch.Events {
		in := transport.Inbound{
			ChatID:       evt.ChatID,
			SenderID:     evt.SenderID,
			SenderName:   evt.SenderName,
			IsGroup:      evt.IsGroup,
			Text:         evt.Text,
			MentionedIDs: evt.MentionedIDs,
		}
		go s.handler.HandleMessage(context.Background(), in)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

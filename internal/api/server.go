package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/twitch-ai-cohost-go/internal/handlers"
	"github.com/twitch-ai-cohost-go/internal/models"
)

// Server is the thin HTTP boundary through which the host runtime drives
// the core: one route per operation, JSON in, JSON out.
type Server struct {
	ask      *handlers.AskHandler
	commands *handlers.CommandHandler
	logger   *logrus.Logger
}

// NewServer creates the host-facing HTTP server
func NewServer(ask *handlers.AskHandler, commands *handlers.CommandHandler, logger *logrus.Logger) *Server {
	return &Server{
		ask:      ask,
		commands: commands,
		logger:   logger,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/ask", s.handleAsk).Methods(http.MethodPost)
	router.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	router.HandleFunc("/keywords", s.handleRememberKeyword).Methods(http.MethodPost)
	router.HandleFunc("/keywords/{word}", s.handleForgetKeyword).Methods(http.MethodDelete)
	router.HandleFunc("/profiles/{user}/name", s.handleSetPreferredName).Methods(http.MethodPut)
	router.HandleFunc("/profiles/{user}/pronouns", s.handleSetPronouns).Methods(http.MethodPut)
	router.HandleFunc("/profiles/{user}/memories", s.handleAddMemory).Methods(http.MethodPost)
	router.HandleFunc("/profiles/{user}/reset", s.handleResetProfile).Methods(http.MethodPost)
	router.HandleFunc("/history/clear", s.handleClearHistory).Methods(http.MethodPost)
	router.HandleFunc("/usage", s.handleUsage).Methods(http.MethodGet)
	router.HandleFunc("/settings/save", s.handleSaveSettings).Methods(http.MethodPost)
	router.HandleFunc("/settings/load", s.handleLoadSettings).Methods(http.MethodPost)

	return router
}

// Start runs the HTTP server until it fails.
func (s *Server) Start(port int) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // completions can block through retries
	}
	return server.ListenAndServe()
}

type askRequest struct {
	User      string `json:"user"`
	Prompt    string `json:"prompt"`
	Source    string `json:"source"`
	WithVoice bool   `json:"with_voice"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid request body", models.ErrValidation))
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	reply, err := s.ask.Handle(r.Context(), handlers.AskRequest{
		UserName:  req.User,
		Prompt:    req.Prompt,
		Source:    req.Source,
		WithVoice: req.WithVoice,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"response": reply})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User string `json:"user"`
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid request body", models.ErrValidation))
		return
	}

	s.ask.ObserveChat(req.User, req.Text)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRememberKeyword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Word       string `json:"word"`
		Definition string `json:"definition"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid request body", models.ErrValidation))
		return
	}

	msg, err := s.commands.RememberKeyword(r.Context(), req.Word, req.Definition)
	s.writeResult(w, msg, err)
}

func (s *Server) handleForgetKeyword(w http.ResponseWriter, r *http.Request) {
	word := mux.Vars(r)["word"]
	msg, err := s.commands.ForgetKeyword(r.Context(), word)
	s.writeResult(w, msg, err)
}

func (s *Server) handleSetPreferredName(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid request body", models.ErrValidation))
		return
	}

	msg, err := s.commands.SetPreferredName(r.Context(), mux.Vars(r)["user"], req.Name)
	s.writeResult(w, msg, err)
}

func (s *Server) handleSetPronouns(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pronouns string `json:"pronouns"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid request body", models.ErrValidation))
		return
	}

	msg, err := s.commands.SetPronouns(r.Context(), mux.Vars(r)["user"], req.Pronouns)
	s.writeResult(w, msg, err)
}

func (s *Server) handleAddMemory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Fact string `json:"fact"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid request body", models.ErrValidation))
		return
	}

	msg, err := s.commands.AddMemory(r.Context(), mux.Vars(r)["user"], req.Fact)
	s.writeResult(w, msg, err)
}

func (s *Server) handleResetProfile(w http.ResponseWriter, r *http.Request) {
	msg, err := s.commands.ResetProfile(r.Context(), mux.Vars(r)["user"])
	s.writeResult(w, msg, err)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	msg, err := s.commands.ClearHistory(r.Context())
	s.writeResult(w, msg, err)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.commands.UsageReport(r.Context())
	s.writeResult(w, msg, err)
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	if err := s.commands.SaveSettings(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLoadSettings(w http.ResponseWriter, r *http.Request) {
	if err := s.commands.LoadSettings(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeResult(w http.ResponseWriter, msg string, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrModerationBlocked):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrConfiguration):
		status = http.StatusInternalServerError
	case errors.Is(err, models.ErrTransport), errors.Is(err, models.ErrEmptyResponse):
		status = http.StatusBadGateway
	}

	s.logger.WithError(err).WithField("status", status).Warn("Request failed")
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

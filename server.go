package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"i4.energy/across/cellctl/at"
	"i4.energy/across/cellctl/modem"
)

// linkManager is the part of *modem.Link the server drives.
type linkManager interface {
	State() modem.LinkState
	PID() int
	Info() (modem.ProcessInfo, error)
	Connect(ctx context.Context, dialtoneCheck bool) (int, error)
	Disconnect() error
}

// Server handles incoming HTTP requests for interacting with the
// configured modem instance
type Server struct {
	Logger *slog.Logger
	Modem  *modem.Modem
	// Link is optional; the /link endpoints answer 404 without it.
	Link linkManager
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /at", s.handleAT)
	mux.HandleFunc("GET /sms", s.handleListSMS)
	mux.HandleFunc("POST /sms", s.handleSMS)
	mux.HandleFunc("GET /link", s.handleLink)
	mux.HandleFunc("POST /link/connect", s.handleConnect)
	mux.HandleFunc("POST /link/disconnect", s.handleDisconnect)
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	s.sendJSON(w, ErrorResponse{Message: message}, statusCode)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Failed to encode response", "error", err)
	}
}

// errorStatus maps engine errors to HTTP status codes.
func errorStatus(err error) int {
	var perr *modem.ProtocolError
	switch {
	case errors.As(err, &perr):
		return http.StatusBadGateway
	case errors.Is(err, modem.ErrUsage):
		return http.StatusConflict
	case errors.Is(err, modem.ErrAlreadyClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type StatusResponse struct {
		Modem  modem.StatusSnapshot `json:"modem"`
		Router string               `json:"router"`
		Counts map[string]int64     `json:"dispatched"`
		Queue  int                  `json:"queued"`
	}

	router := s.Modem.Router()
	s.sendJSON(w, StatusResponse{
		Modem:  s.Modem.Status().Snapshot(),
		Router: router.State().String(),
		Counts: router.Counts(),
		Queue:  router.Pending(),
	}, http.StatusOK)
}

// handleAT sends a raw command, e.g. {"command": "AT+CSQ"}
func (s *Server) handleAT(w http.ResponseWriter, r *http.Request) {
	type ATRequest struct {
		Command string `json:"command"`
		// Raw keeps every reply line instead of the prefixed ones.
		Raw bool `json:"raw"`
	}
	type ATResponse struct {
		Reply modem.Reply `json:"reply"`
	}

	var req ATRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.Command) == "" {
		s.sendError(w, "a 'command' is required", http.StatusBadRequest)
		return
	}
	cmd, err := at.ParseCommand(req.Command)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Raw {
		cmd = cmd.Unprefixed()
	}

	reply, err := s.Modem.Send(r.Context(), cmd)
	if err != nil {
		s.Logger.Warn("Command failed", "command", cmd.String(), "error", err)
		s.sendError(w, err.Error(), errorStatus(err))
		return
	}
	if reply == nil {
		reply = modem.Reply{}
	}
	s.sendJSON(w, ATResponse{Reply: reply}, http.StatusOK)
}

// handleListSMS lists stored messages, optionally filtered by ?filter=
func (s *Server) handleListSMS(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("filter")
	if filter == "" {
		filter = modem.SMSAll
	}

	list, err := s.Modem.ListSMS(r.Context(), filter)
	if err != nil {
		s.Logger.Error("Failed to list SMS", "error", err, "filter", filter)
		s.sendError(w, err.Error(), errorStatus(err))
		return
	}
	if list == nil {
		list = []modem.SMS{}
	}
	s.sendJSON(w, list, http.StatusOK)
}

// handleSMS processes incoming HTTP POST requests to send SMS messages
func (s *Server) handleSMS(w http.ResponseWriter, r *http.Request) {
	type SMSRequest struct {
		To      string `json:"to"`
		Message string `json:"message"`
	}
	type SMSResponse struct {
		Reference int `json:"reference"`
	}

	var req SMSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.To == "" || req.Message == "" {
		s.sendError(w, "both 'to' and 'message' fields are required", http.StatusBadRequest)
		return
	}

	ref, err := s.Modem.SendSMS(r.Context(), req.To, req.Message)
	if err != nil {
		s.Logger.Error("Failed to send SMS", "error", err, "to", req.To)
		s.sendError(w, err.Error(), errorStatus(err))
		return
	}

	s.Logger.Info("SMS sent successfully", "to", req.To, "message_length", len(req.Message), "reference", ref)
	s.sendJSON(w, SMSResponse{Reference: ref}, http.StatusOK)
}

type linkResponse struct {
	State  string             `json:"state"`
	PID    int                `json:"pid,omitempty"`
	Daemon *modem.ProcessInfo `json:"daemon,omitempty"`
}

func (s *Server) linkStatus() linkResponse {
	resp := linkResponse{State: s.Link.State().String(), PID: s.Link.PID()}
	if resp.PID != 0 {
		if info, err := s.Link.Info(); err == nil {
			resp.Daemon = &info
		} else {
			s.Logger.Debug("Failed to sample link daemon", "pid", resp.PID, "error", err)
		}
	}
	return resp
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	if s.Link == nil {
		s.sendError(w, "no data link configured", http.StatusNotFound)
		return
	}
	s.sendJSON(w, s.linkStatus(), http.StatusOK)
}

// handleConnect brings the link up. ?dialtone=false skips dial tone
// detection, which is the default.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if s.Link == nil {
		s.sendError(w, "no data link configured", http.StatusNotFound)
		return
	}

	dialtone := false
	if v := r.URL.Query().Get("dialtone"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.sendError(w, "invalid 'dialtone' value", http.StatusBadRequest)
			return
		}
		dialtone = b
	}

	pid, err := s.Link.Connect(r.Context(), dialtone)
	if err != nil {
		s.Logger.Error("Failed to connect link", "error", err)
		s.sendError(w, err.Error(), errorStatus(err))
		return
	}

	s.Logger.Info("Link connected", "pid", pid)
	s.sendJSON(w, s.linkStatus(), http.StatusOK)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if s.Link == nil {
		s.sendError(w, "no data link configured", http.StatusNotFound)
		return
	}

	if err := s.Link.Disconnect(); err != nil {
		s.Logger.Error("Failed to disconnect link", "error", err)
		s.sendError(w, err.Error(), errorStatus(err))
		return
	}

	s.Logger.Info("Link disconnected")
	s.sendJSON(w, s.linkStatus(), http.StatusOK)
}

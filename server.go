package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"i4.energy/across/wifigw/modem"
	"i4.energy/across/wifigw/smtp"
)

// Mailer sends one email through the module
type Mailer interface {
	SendEmail(ctx context.Context, msg smtp.Message) error
}

// NetworkMonitor reports the module's WiFi link
type NetworkMonitor interface {
	NetworkStatus(ctx context.Context) (modem.LinkStatus, error)
}

// Server handles incoming HTTP requests for interacting with the
// configured module instance
type Server struct {
	Logger  *slog.Logger
	Mailer  Mailer
	Network NetworkMonitor

	// Defaults fills the connection fields a request leaves empty
	Defaults smtp.Message
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /email", s.handleEmail)
	mux.HandleFunc("GET /network", s.handleNetwork)
	mux.ServeHTTP(w, r)
}

type statusResponse struct {
	Message string `json:"message,omitempty"`
	Status  int    `json:"status"`
}

func (s *Server) writeJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, err error, statusCode int) {
	s.writeJSON(w, statusResponse{Message: err.Error(), Status: modem.StatusOf(err)}, statusCode)
}

// httpStatus maps a module or SMTP failure onto an HTTP status code
func httpStatus(err error) int {
	var invalid validator.ValidationErrors
	var reply *smtp.ReplyError
	var module *modem.ModuleError
	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.Is(err, modem.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &reply), errors.As(err, &module), errors.Is(err, modem.ErrMalformedReply):
		return http.StatusBadGateway
	case errors.Is(err, modem.ErrAlreadyClosed), errors.Is(err, modem.ErrTooManySockets):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleEmail processes incoming HTTP POST requests to send an email
func (s *Server) handleEmail(w http.ResponseWriter, r *http.Request) {
	var msg smtp.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		s.sendError(w, err, http.StatusBadRequest)
		return
	}

	if msg.HeloDomain == "" {
		msg.HeloDomain = s.Defaults.HeloDomain
	}
	if msg.MailServer == "" {
		msg.MailServer = s.Defaults.MailServer
		if msg.Port == "" {
			msg.Port = s.Defaults.Port
		}
	}

	if err := s.Mailer.SendEmail(r.Context(), msg); err != nil {
		s.Logger.Error("Failed to send email", "error", err, "to", msg.To, "server", msg.MailServer)
		s.sendError(w, err, httpStatus(err))
		return
	}

	s.Logger.Info("Email sent successfully", "to", msg.To, "body_length", len(msg.Body))
	s.writeJSON(w, statusResponse{Status: modem.StatusOK}, http.StatusOK)
}

// handleNetwork reports the link state as last answered by the module
func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	type NetworkResponse struct {
		Connected bool     `json:"connected"`
		Fields    []string `json:"fields"`
		Raw       string   `json:"raw"`
	}

	status, err := s.Network.NetworkStatus(r.Context())
	if err != nil {
		s.Logger.Warn("Network status query failed", "error", err)
		s.sendError(w, err, httpStatus(err))
		return
	}

	s.writeJSON(w, NetworkResponse{
		Connected: status.Connected,
		Fields:    status.Fields,
		Raw:       status.Raw,
	}, http.StatusOK)
}

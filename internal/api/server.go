package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/nrega-mitra/backend/internal/entities"
	"github.com/nrega-mitra/backend/internal/logging"
	"github.com/nrega-mitra/backend/internal/metrics"
	"github.com/nrega-mitra/backend/internal/usecases"
)

const welcomeMessage = "Welcome to NREGA Mitra Backend"

// ServerOptions configures the REST server
type ServerOptions struct {
	// AdminToken guards POST /api/nrega/refresh. Empty disables the route.
	AdminToken string
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Server exposes the stored district data over HTTP
type Server struct {
	useCase    *usecases.NregaUseCase
	adminToken string
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Error  string `json:"error,omitempty"`
}

type statusResponse struct {
	State   string               `json:"state"`
	LastRun *entities.RefreshRun `json:"last_run"`
}

// NewServer creates the REST server
func NewServer(useCase *usecases.NregaUseCase, opts ServerOptions) *Server {
	return &Server{
		useCase:    useCase,
		adminToken: opts.AdminToken,
		logger:     logging.OrNop(opts.Logger).Named("http"),
		metrics:    opts.Metrics,
	}
}

// Handler returns the routed handler wrapped with CORS, logging and recovery
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests, s.recoverPanics)

	r.HandleFunc("/", s.handleWelcome).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/nrega").Subrouter()
	api.HandleFunc("", s.handleAll).Methods(http.MethodGet)
	api.HandleFunc("/maharashtra", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/districts", s.handleDistricts).Methods(http.MethodGet)
	api.HandleFunc("/district/{districtName}", s.handleDistrict).Methods(http.MethodGet)
	api.HandleFunc("/district/{districtName}/history", s.handleDistrictHistory).Methods(http.MethodGet)
	api.HandleFunc("/compare", s.handleCompare).Methods(http.MethodGet)
	api.HandleFunc("/locate", s.handleLocate).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Admin-Token"},
		MaxAge:         86400,
	})
	return c.Handler(r)
}

func (s *Server) handleWelcome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(welcomeMessage))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.useCase.Ping(r.Context()); err != nil {
		s.logger.Warn("store ping failed", zap.Error(err))
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status: "error",
			Store:  "unreachable",
			Error:  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Store: "connected"})
}

func (s *Server) handleAll(w http.ResponseWriter, r *http.Request) {
	records, err := s.useCase.GetAllRecords(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	records, err := s.useCase.GetStateRecords(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleDistricts(w http.ResponseWriter, r *http.Request) {
	districts, err := s.useCase.ListDistricts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, districts)
}

func (s *Server) handleDistrict(w http.ResponseWriter, r *http.Request) {
	record, err := s.useCase.GetDistrict(r.Context(), mux.Vars(r)["districtName"])
	if err != nil {
		s.writeDistrictError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleDistrictHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.useCase.GetDistrictHistory(r.Context(), mux.Vars(r)["districtName"])
	if err != nil {
		s.writeDistrictError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	district, with := strings.TrimSpace(q.Get("district")), strings.TrimSpace(q.Get("with"))
	if district == "" || with == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "both district and with are required"})
		return
	}
	comparison, err := s.useCase.CompareDistricts(r.Context(), district, with)
	if err != nil {
		s.writeDistrictError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, comparison)
}

func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "lat and lon must be numbers"})
		return
	}
	location, err := s.useCase.LocateDistrict(r.Context(), lat, lon)
	if errors.Is(err, errors.NotFound) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "No district found near this location"})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, location)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{State: s.useCase.TargetState()}
	run, err := s.useCase.LastRefresh(r.Context())
	switch {
	case err == nil:
		resp.LastRun = &run
	case errors.Is(err, errors.NotFound):
	default:
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.adminToken == "" {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not found"})
		return
	}
	token := r.Header.Get("X-Admin-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
		s.writeError(w, errors.Unauthorizedf("invalid admin token"))
		return
	}

	s.logger.Info("manual refresh requested", zap.String("remote", r.RemoteAddr))
	run, err := s.useCase.RefreshNregaData(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// writeDistrictError answers a district miss with the fixed not-found body
func (s *Server) writeDistrictError(w http.ResponseWriter, err error) {
	if errors.Is(err, errors.NotFound) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "District not found"})
		return
	}
	s.writeError(w, err)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errors.NotFound):
		status = http.StatusNotFound
	case errors.Is(err, errors.NotValid):
		status = http.StatusBadRequest
	case errors.Is(err, errors.Unauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, errors.NotSupported):
		status = http.StatusNotImplemented
	case errors.Is(err, usecases.ErrRefreshInProgress):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

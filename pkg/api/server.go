// Package api exposes the oracle over HTTP. Paths are stable; clients
// depend on them.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/cadenabitcoin/dlcoracle/pkg/oracle"
)

// Server handles the REST API and the static site.
type Server struct {
	oracle    *oracle.Oracle
	router    *mux.Router
	demoMode  bool
	staticDir string
}

func NewServer(o *oracle.Oracle, demoMode bool, staticDir string) *Server {
	s := &Server{
		oracle:    o,
		router:    mux.NewRouter(),
		demoMode:  demoMode,
		staticDir: staticDir,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v0").Subrouter()

	// Oracle endpoints
	api.HandleFunc("/oracle/oracle_info", s.handleOracleInfo).Methods("GET")
	api.HandleFunc("/oracle/oracle_status", s.handleOracleStatus).Methods("GET")

	// Event endpoints
	api.HandleFunc("/event/event/{event_id}", s.handleEvent).Methods("GET")
	api.HandleFunc("/event/events", s.handleEvents).Methods("GET")
	api.HandleFunc("/event/event_ids", s.handleEventIDs).Methods("GET")
	api.HandleFunc("/event/event_classes", s.handleEventClasses).Methods("GET")
	api.HandleFunc("/event/next_event", s.handleNextEvent).Methods("GET")

	// Price endpoints
	api.HandleFunc("/price/current_all", s.handlePriceAll).Methods("GET")
	api.HandleFunc("/price/current/{symbol}", s.handlePrice).Methods("GET")
	api.HandleFunc("/price_info/current_all", s.handlePriceInfoAll).Methods("GET")
	api.HandleFunc("/price_info/current/{symbol}", s.handlePriceInfo).Methods("GET")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	if !s.demoMode {
		// The demo page is only served when explicitly enabled.
		s.router.HandleFunc("/demo", func(w http.ResponseWriter, r *http.Request) {
			respondError(w, http.StatusNotFound, "not demo mode", "")
		})
	}
	if s.staticDir != "" {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.staticDir)))
	}
}

// Handler returns the routed handler, used by tests and by Start.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start runs the HTTP server, blocking until it fails.
func (s *Server) Start(addr string) error {
	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleOracleInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.oracle.Info())
}

func (s *Server) handleOracleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.oracle.Status()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "status query failed", err.Error())
		return
	}
	respondJSON(w, status)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	eventID := mux.Vars(r)["event_id"]
	info, err := s.oracle.EventByID(eventID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "event query failed", err.Error())
		return
	}
	if info == nil {
		// Absent events are an empty object, not a 404.
		respondJSON(w, struct{}{})
		return
	}
	respondJSON(w, info)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	start, end, ok := timeWindow(w, r)
	if !ok {
		return
	}
	infos, err := s.oracle.EventsFilter(start, end, r.URL.Query().Get("definition"), 0)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "event query failed", err.Error())
		return
	}
	if infos == nil {
		infos = []oracle.EventInfo{}
	}
	respondJSON(w, infos)
}

func (s *Server) handleEventIDs(w http.ResponseWriter, r *http.Request) {
	start, end, ok := timeWindow(w, r)
	if !ok {
		return
	}
	ids, err := s.oracle.EventIDsFilter(start, end, r.URL.Query().Get("definition"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "event query failed", err.Error())
		return
	}
	respondJSON(w, ids)
}

func (s *Server) handleEventClasses(w http.ResponseWriter, r *http.Request) {
	infos, err := s.oracle.EventClasses()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "class query failed", err.Error())
		return
	}
	if infos == nil {
		infos = []oracle.ClassInfo{}
	}
	respondJSON(w, infos)
}

func (s *Server) handleNextEvent(w http.ResponseWriter, r *http.Request) {
	definition := r.URL.Query().Get("definition")
	if definition == "" {
		respondError(w, http.StatusBadRequest, "missing definition", "")
		return
	}
	period := int64(60)
	if v := r.URL.Query().Get("period"); v != "" {
		// Clients send fractional periods; truncate like a cast would.
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid period", v)
			return
		}
		period = int64(f)
	}
	info, err := s.oracle.NextEvent(definition, period)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "event query failed", err.Error())
		return
	}
	if info == nil {
		respondJSON(w, struct{}{})
		return
	}
	respondJSON(w, info)
}

func (s *Server) handlePriceAll(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.oracle.CurrentPrices())
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	respondJSON(w, s.oracle.CurrentPrice(symbol))
}

func (s *Server) handlePriceInfoAll(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.oracle.CurrentPriceInfos())
}

func (s *Server) handlePriceInfo(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	respondJSON(w, s.oracle.CurrentPriceInfo(symbol))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

// timeWindow parses the optional start_time/end_time query params. A
// missing param means 0, i.e. unbounded.
func timeWindow(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	q := r.URL.Query()
	start, err := parseInt(q.Get("start_time"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid start_time", q.Get("start_time"))
		return 0, 0, false
	}
	end, err := parseInt(q.Get("end_time"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid end_time", q.Get("end_time"))
		return 0, 0, false
	}
	return start, end, true
}

func parseInt(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"threathunt/internal/record"
	"threathunt/internal/store"
)

// Trigger starts a hunt in the background.
type Trigger interface {
	Kick() bool
}

// RunStore is the read side of the run ledger.
type RunStore interface {
	List(limit int) ([]store.Run, error)
	Get(id string) (store.Run, error)
}

// Records is the read side of the result recorder.
type Records interface {
	List(from, to time.Time) ([]record.RecordFile, error)
	Read(path string) ([]record.Row, error)
	Path(runDate time.Time) string
}

// Server exposes run control and the persisted results over HTTP, and a
// gRPC health service.
type Server struct {
	trigger Trigger
	runs    RunStore
	records Records
	logger  *slog.Logger
	router  *mux.Router
	grpcSrv *grpc.Server
	health  *health.Server
}

func New(trigger Trigger, runs RunStore, records Records, logger *slog.Logger) *Server {
	s := &Server{
		trigger: trigger,
		runs:    runs,
		records: records,
		logger:  logger,
		router:  mux.NewRouter(),
		grpcSrv: grpc.NewServer(),
		health:  health.NewServer(),
	}
	s.routes()
	healthpb.RegisterHealthServer(s.grpcSrv, s.health)
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/runs", s.handleTrigger).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/runs", s.handleListRuns).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/records", s.handleListRecords).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/records/{date}", s.handleGetRecord).Methods(http.MethodGet)
}

func (s *Server) Router() http.Handler { return s.router }

// MetricsHandler serves the Prometheus registry.
func MetricsHandler() http.Handler {
	m := http.NewServeMux()
	m.Handle("/metrics", promhttp.Handler())
	return m
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if !s.trigger.Kick() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "hunt already running"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}
	runs, err := s.runs.List(limit)
	if err != nil {
		s.logger.Error("list runs", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ledger unavailable"})
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Get(mux.Vars(r)["id"])
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	if err != nil {
		s.logger.Error("get run", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ledger unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	from, err := parseDay(r.URL.Query().Get("from"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid from date"})
		return
	}
	to, err := parseDay(r.URL.Query().Get("to"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid to date"})
		return
	}
	files, err := s.records.List(from, to)
	if err != nil {
		s.logger.Error("list records", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "records unavailable"})
		return
	}
	if files == nil {
		files = []record.RecordFile{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	day, err := parseDay(mux.Vars(r)["date"])
	if err != nil || day.IsZero() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid date"})
		return
	}
	path := s.records.Path(day)
	rows, err := s.records.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no record for " + day.Format("2006-01-02")})
		return
	}
	if err != nil {
		s.logger.Error("read record", "path", path, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "record unreadable"})
		return
	}
	if rows == nil {
		rows = []record.Row{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"file": filepath.Base(path), "rows": rows})
}

// StartGRPC serves the standard gRPC health service on addr until Stop.
func (s *Server) StartGRPC(addr string) error {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("grpc health listening", "addr", addr)
	return s.grpcSrv.Serve(ln)
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcSrv.GracefulStop()
}

func parseDay(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{"2006-01-02", "20060102"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unrecognised date " + strconv.Quote(v))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/loadtoy/dashboard/internal/charts"
	"github.com/loadtoy/dashboard/internal/pool"
	"github.com/loadtoy/dashboard/internal/runs"
	"github.com/loadtoy/dashboard/internal/shapes"
	"github.com/loadtoy/dashboard/internal/status"
	"github.com/loadtoy/dashboard/internal/target"
)

// Controller is the run control surface the HTTP API exposes.
type Controller interface {
	Start(class runs.TestClass, cfg runs.RunConfig) (runs.RunRecord, error)
	Stop(runID string) (runs.RunRecord, error)
	StopAll() int
	Status(ctx context.Context) status.View
	Shapes() []shapes.Script
	Shape(script, scenario string) (shapes.Shape, error)
}

type Server struct {
	ctl     Controller
	pool    pool.Source
	target  target.Client
	charts  *charts.Generator
	log     *logrus.Entry
	timeout time.Duration
}

// NewServer takes optional pool and target collaborators; their routes
// answer 503 when they are nil.
func NewServer(ctl Controller, poolSource pool.Source, targetClient target.Client, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		ctl:     ctl,
		pool:    poolSource,
		target:  targetClient,
		charts:  charts.NewGenerator(),
		log:     log.WithField("component", "server"),
		timeout: 5 * time.Second,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, kindNotFound, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, kindBadRequest, r.Method+" is not allowed on "+r.URL.Path)
	})

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/dashboard", func(r chi.Router) {
		r.Route("/k6", func(r chi.Router) {
			r.Post("/start", s.handleStart)
			r.Post("/stop/{runId}", s.handleStop)
			r.Post("/stop-all", s.handleStopAll)
			r.Get("/status", s.handleStatus)
			r.Get("/shapes", s.handleShapes)
			r.Get("/shapes/{script}/{scenario}/chart", s.handleShapeChart)
			r.Get("/last/{testType}/chart", s.handleLastRunChart)
		})

		r.Get("/db/status", s.handleDBStatus)
		r.Get("/db/pool-status", s.handlePoolStatus)
		r.Get("/db/pool-size", s.handleGetPoolSize)
		r.Post("/db/pool-size", s.handleSetPoolSize)
		r.Get("/app/status", s.handleAppStatus)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Defaults applied to fields missing from a start request.
const (
	defaultTestType = runs.ClassScenario
	defaultScenario = "realistic"
	defaultRPS      = 10
	defaultDuration = 5
	defaultVUs      = 20
	defaultScript   = shapes.DynamicScript
)

type startRequest struct {
	TestType *string `json:"testType"`
	Scenario *string `json:"scenario"`
	RPS      *int    `json:"rps"`
	VUs      *int    `json:"vus"`
	Duration *int    `json:"duration"`
	Script   *string `json:"script"`
}

func (req startRequest) resolve() (runs.TestClass, runs.RunConfig, error) {
	class := defaultTestType
	if req.TestType != nil {
		c, err := runs.ParseClass(*req.TestType)
		if err != nil {
			return "", runs.RunConfig{}, err
		}
		class = c
	}

	cfg := runs.RunConfig{
		Scenario:        defaultScenario,
		RPS:             defaultRPS,
		VUs:             defaultVUs,
		DurationMinutes: defaultDuration,
		Script:          defaultScript,
	}
	if req.Scenario != nil {
		cfg.Scenario = *req.Scenario
	}
	if req.RPS != nil {
		cfg.RPS = *req.RPS
	}
	if req.VUs != nil {
		cfg.VUs = *req.VUs
	}
	if req.Duration != nil {
		cfg.DurationMinutes = *req.Duration
	}
	if req.Script != nil {
		cfg.Script = *req.Script
	}
	return class, cfg, nil
}

type startResponse struct {
	RunID    string `json:"runId"`
	TestType string `json:"testType"`
	Status   string `json:"status"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, kindBadRequest, "invalid request body: "+err.Error())
		return
	}

	class, cfg, err := req.resolve()
	if err != nil {
		s.writeRunError(w, err)
		return
	}

	rec, err := s.ctl.Start(class, cfg)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{RunID: rec.ID, TestType: string(rec.Class), Status: "started"})
}

type stopResponse struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	if _, err := s.ctl.Stop(runID); err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stopResponse{RunID: runID, Status: "stopping"})
}

func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	count := s.ctl.StopAll()
	writeJSON(w, http.StatusOK, map[string]interface{}{"count": count, "status": "stopping"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Status(r.Context()))
}

func (s *Server) handleShapes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Shapes())
}

func (s *Server) handleShapeChart(w http.ResponseWriter, r *http.Request) {
	shape, err := s.ctl.Shape(chi.URLParam(r, "script"), chi.URLParam(r, "scenario"))
	if err != nil {
		writeError(w, http.StatusNotFound, kindNotFound, err.Error())
		return
	}

	p := shapes.Params{RPS: defaultRPS, VUs: defaultVUs, Duration: defaultDuration * time.Minute}
	q := r.URL.Query()
	for _, f := range []struct {
		name string
		dst  *int
	}{{"rps", &p.RPS}, {"vus", &p.VUs}} {
		if v := q.Get(f.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, kindValidation, f.name+" must be a positive integer")
				return
			}
			*f.dst = n
		}
	}
	if v := q.Get("duration"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || (n < 1 && n != runs.OpenEndedDuration) {
			writeError(w, http.StatusBadRequest, kindValidation, "duration must be a positive number of minutes or -1")
			return
		}
		p.Duration = time.Duration(n) * time.Minute
		if n == runs.OpenEndedDuration {
			p.Duration = 0
		}
	}

	html, err := s.charts.ProfileChart(shape, p)
	if err != nil {
		s.log.WithError(err).Error("failed to render profile chart")
		writeError(w, http.StatusInternalServerError, kindInternal, "failed to render chart")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, html)
}

func (s *Server) handleLastRunChart(w http.ResponseWriter, r *http.Request) {
	class, err := runs.ParseClass(chi.URLParam(r, "testType"))
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	last := s.ctl.Status(r.Context()).LastFinishedTests[string(class)]
	if last == nil || len(last.Summary) == 0 {
		writeError(w, http.StatusNotFound, kindNotFound, "no finished "+string(class)+" run with a summary")
		return
	}

	html, err := s.charts.LatencyChart(last.RunID, last.Summary)
	if err != nil {
		s.log.WithError(err).Error("failed to render latency chart")
		writeError(w, http.StatusInternalServerError, kindInternal, "failed to render chart")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, html)
}

func (s *Server) handlePoolStatus(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		writeError(w, http.StatusServiceUnavailable, kindUnavailable, pool.ErrDisabled.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	st, err := s.pool.Status(ctx)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type poolSizeBody struct {
	MaxPoolSize *int `json:"maxPoolSize"`
}

func (s *Server) handleGetPoolSize(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		writeError(w, http.StatusServiceUnavailable, kindUnavailable, pool.ErrDisabled.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	size, err := s.pool.Size(ctx)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"maxPoolSize": size})
}

func (s *Server) handleSetPoolSize(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		writeError(w, http.StatusServiceUnavailable, kindUnavailable, pool.ErrDisabled.Error())
		return
	}
	var body poolSizeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, kindBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.MaxPoolSize == nil || *body.MaxPoolSize < 1 {
		writeError(w, http.StatusBadRequest, kindValidation, "maxPoolSize must be >= 1")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	size, err := s.pool.SetSize(ctx, *body.MaxPoolSize)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	s.log.WithField("maxPoolSize", size).Info("pool size updated")
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "updated", "maxPoolSize": size})
}

func (s *Server) handleAppStatus(w http.ResponseWriter, r *http.Request) {
	if s.target == nil {
		writeError(w, http.StatusServiceUnavailable, kindUnavailable, target.ErrNotConfigured.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	st, err := s.target.AppStatus(ctx)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDBStatus(w http.ResponseWriter, r *http.Request) {
	if s.target == nil {
		writeError(w, http.StatusServiceUnavailable, kindUnavailable, target.ErrNotConfigured.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	st, err := s.target.DBStatus(ctx)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) writeUpstreamError(w http.ResponseWriter, err error) {
	if !errors.Is(err, pool.ErrDisabled) && !errors.Is(err, target.ErrNotConfigured) {
		s.log.WithError(err).Warn("workload target call failed")
	}
	writeError(w, http.StatusServiceUnavailable, kindUnavailable, err.Error())
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"requestId": middleware.GetReqID(r.Context()),
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    ww.Status(),
			"elapsed":   time.Since(start).String(),
		}).Debug("request")
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

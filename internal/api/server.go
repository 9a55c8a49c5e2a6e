package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/distqueue/distqueue/internal/event"
	"github.com/distqueue/distqueue/internal/logging"
	"github.com/distqueue/distqueue/internal/taskdb"
)

// Engine is the subset of coordinator.Coordinator the Server depends on —
// narrowed to an interface so the server can be tested without a real
// store, matching the teacher's habit of depending on backend interfaces
// rather than concrete types at the transport boundary.
type Engine interface {
	SubmitTask(taskType string, payload []byte) (uint64, error)
	GetTask(id uint64) (taskdb.Task, error)
	Stats() (taskdb.Stats, error)
	Health() bool
	ClaimTask(workerID string, leaseDuration time.Duration) (taskdb.ClaimResult, error)
	SubmitResult(workerID string, taskID uint64, outcome taskdb.Outcome, blob []byte) error
	SaveCheckpoint(workerID string, taskID uint64, state []byte, elapsedMS int64, leaseDuration time.Duration) (time.Time, error)
	Heartbeat(workerID string) error
	Events() *event.Feed
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server mounts the REST/JSON transport of spec §6 over an Engine.
type Server struct {
	engine Engine
	router *mux.Router
	log    *logging.Logger
}

// NewServer builds the router. promReg, if non-nil, is mounted at
// /metrics via promhttp.
func NewServer(engine Engine, promReg *prometheus.Registry) *Server {
	s := &Server{
		engine: engine,
		router: mux.NewRouter(),
		log:    logging.New("component", "api"),
	}
	s.routes(promReg)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) routes(promReg *prometheus.Registry) {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/tasks", s.handleSubmitTask).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/tasks/{id}", s.handleGetTask).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/claims", s.handleClaim).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/tasks/{id}/result", s.handleSubmitResult).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/tasks/{id}/checkpoint", s.handleCheckpoint).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/workers/{id}/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/events", s.handleEvents).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/events/ws", s.handleEventsWS).Methods(http.MethodGet)
	if promReg != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Health() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.engine.SubmitTask(req.TaskType, req.Payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitTaskResponse{TaskID: id})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	t, err := s.engine.GetTask(id)
	if err != nil {
		if errors.Is(err, taskdb.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.engine.ClaimTask(req.WorkerID, req.LeaseDuration)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := claimResponse{Found: res.Found}
	if res.Found {
		resp.Task = &res.Task
		resp.Checkpoint = res.Checkpoint
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req submitResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err = s.engine.SubmitResult(req.WorkerID, id, req.Outcome, req.Blob)
	if err != nil {
		if taskdb.IsReject(err) {
			writeJSON(w, http.StatusConflict, errorBody{Reject: err.Error()})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ack"})
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req checkpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	lease, err := s.engine.SaveCheckpoint(req.WorkerID, id, req.State, req.ElapsedMS, 0)
	if err != nil {
		if taskdb.IsReject(err) {
			writeJSON(w, http.StatusConflict, errorBody{Reject: err.Error()})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, checkpointResponse{LeaseExpiresAt: lease})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.engine.Heartbeat(vars["id"]); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ack"})
}

// handleEvents streams the coordinator's task-lifecycle feed as
// server-sent events until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	sub := s.engine.Events().Subscribe(16)
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Chan():
			if !ok {
				return
			}
			b, _ := json.Marshal(ev)
			if _, err := w.Write(append(append([]byte("data: "), b...), '\n', '\n')); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleEventsWS is a websocket alternative to the SSE feed for clients
// behind proxies that buffer or strip text/event-stream — the same
// event.Feed subscription, framed as JSON text messages instead of SSE.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	sub := s.engine.Events().Subscribe(16)
	defer sub.Unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Chan():
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

func pathID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

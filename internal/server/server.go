package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sitelens/intel-cli/internal/intel"
	"github.com/sitelens/intel-cli/internal/jobs"
	"github.com/sitelens/intel-cli/internal/model"
)

// Runner executes one analysis run. *intel.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, req intel.Request) (*model.AnalysisResult, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server exposes the pipeline over HTTP: job submission, status, cancel,
// and a per-job websocket event stream.
type Server struct {
	runner Runner
	jobs   jobs.Store
	hub    *Hub

	// baseCtx bounds background runs; cancelled on shutdown.
	baseCtx context.Context
}

func New(ctx context.Context, runner Runner, jobStore jobs.Store) *Server {
	return &Server{
		runner:  runner,
		jobs:    jobStore,
		hub:     NewHub(),
		baseCtx: ctx,
	}
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)
		r.Route("/jobs/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetJob)
			r.Post("/cancel", s.handleCancel)
			r.Get("/events", s.handleEvents)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type analyzeRequest struct {
	URL       string `json:"url"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if u, err := url.Parse(req.URL); err != nil || (u.Host == "" && u.Path == "") {
		writeError(w, http.StatusBadRequest, "url is not valid")
		return
	}

	owner := model.Owner{UserID: req.UserID, SessionID: req.SessionID}
	if err := owner.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.jobs.Create(r.Context(), req.URL, owner)
	if err != nil {
		zap.L().Error("server: create job", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	go s.run(job.ID, req.URL, owner)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

// run executes the pipeline for a job in the background, mirroring every
// event into the job store and the websocket hub.
func (s *Server) run(jobID, rawURL string, owner model.Owner) {
	ctx := s.baseCtx
	log := zap.L().With(zap.String("job_id", jobID), zap.String("url", rawURL))

	req := intel.Request{
		URL:   rawURL,
		Owner: owner,
		Sinks: intel.Sinks{
			Progress: func(pu model.ProgressUpdate) {
				if err := s.jobs.SetProgress(ctx, jobID, pu.Stage, pu.Label, pu.Percent); err != nil {
					log.Warn("update job progress", zap.Error(err))
				}
				s.hub.Broadcast(jobID, "progress", pu)
			},
			Partial: func(pr model.PartialResult) {
				s.hub.Broadcast(jobID, "partial", pr)
			},
			Narrative: func(ev model.NarrativeEvent) {
				s.hub.Broadcast(jobID, "narrative", ev)
			},
		},
		Probe: func(ctx context.Context) (bool, error) {
			return s.jobs.IsCancelRequested(ctx, jobID)
		},
	}

	result, err := s.runner.Run(ctx, req)
	switch {
	case intel.IsCancelled(err):
		log.Info("job cancelled")
		if mErr := s.jobs.MarkCancelled(ctx, jobID); mErr != nil {
			log.Warn("mark job cancelled", zap.Error(mErr))
		}
		s.hub.Broadcast(jobID, "cancelled", map[string]string{"job_id": jobID})
	case err != nil:
		log.Error("job failed", zap.Error(err))
		if fErr := s.jobs.Fail(ctx, jobID, err.Error()); fErr != nil {
			log.Warn("mark job failed", zap.Error(fErr))
		}
		s.hub.Broadcast(jobID, "error", map[string]string{"job_id": jobID, "message": err.Error()})
	default:
		if cErr := s.jobs.Complete(ctx, jobID, result); cErr != nil {
			log.Warn("mark job complete", zap.Error(cErr))
		}
		s.hub.Broadcast(jobID, "result", result)
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		zap.L().Error("server: get job", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		zap.L().Error("server: get job", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Done() {
		writeJSON(w, http.StatusOK, map[string]string{
			"job_id": id,
			"status": string(job.Status),
		})
		return
	}

	if err := s.jobs.RequestCancel(r.Context(), id); err != nil {
		zap.L().Error("server: request cancel", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to request cancellation")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": id,
		"status": "cancelling",
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		zap.L().Error("server: get job", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("server: websocket upgrade", zap.Error(err))
		return
	}

	client := s.hub.Subscribe(id, conn)
	defer func() {
		s.hub.Unsubscribe(id, client)
		_ = conn.Close()
	}()

	// Current state first so late subscribers can render immediately.
	if snap, err := json.Marshal(wsMessage{Type: "job", Payload: job}); err == nil {
		if err := client.write(snap); err != nil {
			return
		}
	}

	// Read loop exists only to detect disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

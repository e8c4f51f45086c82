// Package server exposes the episode/training/LLM-adapter API over HTTP,
// using gorilla/mux for routing the way the teacher's fastview package uses
// a single-purpose handler registry, and eventstream.Client for the
// training telemetry stream, re-pointed here from the teacher's full-duplex
// websocket to Server-Sent Events: this service's events are one-way
// telemetry, not an interactive session, so SSE's simpler, reconnectable
// protocol fits better than gorilla/websocket's ping/pong lifecycle.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"time"

	"github.com/gorilla/mux"

	"github.com/miry41/lamarl-playground/internal/config"
	"github.com/miry41/lamarl-playground/internal/episode"
	"github.com/miry41/lamarl-playground/internal/eventstream"
	"github.com/miry41/lamarl-playground/internal/lamarlerr"
	"github.com/miry41/lamarl-playground/internal/llmadapter"
	"github.com/miry41/lamarl-playground/internal/priordsl"
	"github.com/miry41/lamarl-playground/internal/safeexpr"
	"github.com/miry41/lamarl-playground/internal/swarmenv"
	"github.com/miry41/lamarl-playground/internal/trainloop"
)

// Server wires the episode store, training loop and LLM generator behind an
// HTTP mux, and owns the process's one listening address.
type Server struct {
	cfg       *config.Config
	store     *episode.Store
	loop      *trainloop.Loop
	generator llmadapter.Generator
	router    *mux.Router
}

// New constructs a Server from cfg, its own episode store, and generator
// (pass llmadapter.TemplateGenerator{} for the offline default).
func New(cfg *config.Config, generator llmadapter.Generator) *Server {
	store := episode.NewStore(time.Now().UnixNano())
	s := &Server{
		cfg:       cfg,
		store:     store,
		loop:      trainloop.New(store),
		generator: generator,
	}
	s.router = s.buildRouter()
	return s
}

// Serve blocks, listening on cfg.Server.Addr.
func (s *Server) Serve() error {
	if err := http.ListenAndServe(s.cfg.Server.Addr, s.Handler()); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Handler returns the CORS-wrapped mux.Router that Serve listens with; tests
// drive it directly through httptest.
func (s *Server) Handler() http.Handler { return s.withCORS(s.router) }

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/episodes", s.handleCreateEpisode).Methods(http.MethodPost)
	r.HandleFunc("/episodes", s.handleListEpisodes).Methods(http.MethodGet)
	r.HandleFunc("/episodes/{id}", s.handleGetEpisode).Methods(http.MethodGet)
	r.HandleFunc("/train", s.handleTrain).Methods(http.MethodPost)
	r.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)
	r.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)
	r.HandleFunc("/llm/generate", s.handleLLMGenerate).Methods(http.MethodPost)
	r.HandleFunc("/llm/validate", s.handleLLMValidate).Methods(http.MethodPost)
	r.HandleFunc("/llm/operations", s.handleLLMOperations).Methods(http.MethodGet)
	r.HandleFunc("/llm/health", s.handleLLMHealth).Methods(http.MethodGet)
	return r
}

// vercelPreview matches any Vercel preview deployment origin, mirroring the
// original backend's allow_origin_regex.
var vercelPreview = regexp.MustCompile(`^https://.*\.vercel\.app$`)

// withCORS allows the configured frontend origins (production, preview, and
// local dev ports) plus any Vercel preview deployment, the way the Python
// original's CORSMiddleware does.
func (s *Server) withCORS(next http.Handler) http.Handler {
	allowed := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:5174": true,
		"http://localhost:3000": true,
	}
	if s.cfg.Server.FrontendURL != "" {
		allowed[s.cfg.Server.FrontendURL] = true
	}
	if s.cfg.Server.FrontendURLPreview != "" {
		allowed[s.cfg.Server.FrontendURLPreview] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowed[origin] || vercelPreview.MatchString(origin)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "*")
			w.Header().Set("Access-Control-Allow-Headers", "*")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// episodeCreateRequest mirrors the Python original's EpisodeCreate model,
// field for field, with the Go-idiomatic defaults applied from cfg when a
// field is left zero.
type episodeCreateRequest struct {
	Shape       string  `json:"shape"`
	Seed        int64   `json:"seed"`
	NumRobots   int     `json:"nRobot"`
	RSense      float64 `json:"rSense"`
	RAvoid      float64 `json:"rAvoid"`
	NumNeighbor int     `json:"nhn"`
	NumCells    int     `json:"nhc"`
	GridSize    int     `json:"gridSize"`
	LCell       float64 `json:"lCell"`
}

func (s *Server) handleCreateEpisode(w http.ResponseWriter, r *http.Request) {
	req := episodeCreateRequest{}
	defaults := s.cfg.Environment
	req.Shape = defaults.Shape
	req.GridSize = defaults.GridSize
	req.NumRobots = defaults.NumRobots
	req.RSense = defaults.RSense
	req.RAvoid = defaults.RAvoid
	req.NumNeighbor = defaults.NumNeighbor
	req.NumCells = defaults.NumCells
	req.LCell = defaults.LCell

	if err := decodeJSONIfPresent(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cfg := swarmenv.Config{
		Shape:       req.Shape,
		GridSize:    req.GridSize,
		NumRobots:   req.NumRobots,
		RSense:      req.RSense,
		RAvoid:      req.RAvoid,
		NumNeighbor: req.NumNeighbor,
		NumCells:    req.NumCells,
		LCell:       req.LCell,
		Seed:        req.Seed,
	}

	hp := s.cfg.ResolveHyperparams(0)
	ep, err := s.store.CreateWithHyperparams(cfg, &hp)
	if err != nil {
		writeStatusForErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"episodeId": ep.ID})
}

func (s *Server) handleListEpisodes(w http.ResponseWriter, _ *http.Request) {
	eps := s.store.List()
	out := make([]map[string]interface{}, 0, len(eps))
	for _, ep := range eps {
		out = append(out, map[string]interface{}{
			"episodeId": ep.ID,
			"shape":     ep.Config.Shape,
			"numRobots": ep.Config.NumRobots,
			"createdAt": ep.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetEpisode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ep, err := s.store.Get(id)
	if err != nil {
		writeStatusForErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"episodeId": ep.ID,
		"config":    ep.Config,
		"timeline":  ep.Timeline(),
	})
}

// trainStartRequest mirrors the Python original's TrainStart model.
type trainStartRequest struct {
	EpisodeID       string `json:"episodeId"`
	Episodes        int    `json:"episodes"`
	EpisodeLen      int    `json:"episodeLen"`
	UseLLM          bool   `json:"useLlm"`
	TaskDescription string `json:"taskDescription"`
	LLMModel        string `json:"llmModel"`
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	req := trainStartRequest{
		Episodes:   s.cfg.Training.NumEpisodes,
		EpisodeLen: s.cfg.Training.EpisodeLen,
		LLMModel:   s.cfg.LLM.DefaultModel,
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ep, err := s.store.Get(req.EpisodeID)
	if err != nil {
		writeStatusForErr(w, err)
		return
	}

	if req.UseLLM {
		taskDesc := req.TaskDescription
		if taskDesc == "" {
			taskDesc = fmt.Sprintf("form a %s with %d robots", ep.Config.Shape, ep.Config.NumRobots)
		}
		envParams := llmadapter.EnvParams{
			Shape:       ep.Config.Shape,
			NumRobots:   ep.Config.NumRobots,
			RSense:      ep.Config.RSense,
			RAvoid:      ep.Config.RAvoid,
			NumNeighbor: ep.Config.NumNeighbor,
			NumCells:    ep.Config.NumCells,
		}

		doc, err := s.generator.Generate(r.Context(), taskDesc, envParams, req.LLMModel, s.cfg.LLM.DefaultTemperature, true, true)
		if err != nil {
			writeError(w, http.StatusBadGateway, fmt.Errorf("%w: %v", lamarlerr.ErrLLMUnavailable, err))
			return
		}

		policy, err := priordsl.Compile(doc.Prior)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		compiledReward, err := safeexpr.Compile(doc.Reward.Formula)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}

		// The compiled reward function is stored on the learning system
		// (reachable through System.Reward) exactly as the original stores
		// reward_fn on the training session; the training loop itself always
		// scores steps with the fixed collision-penalty formula, never this
		// one.
		ep.System.SetPrior(policy)
		ep.System.SetReward(func(coverage, uniformity float64, collisions int) float64 {
			v, evalErr := compiledReward.Eval(safeexpr.Inputs{
				Coverage: coverage, Uniformity: uniformity, Collisions: float64(collisions), Variance: uniformity,
			})
			if evalErr != nil {
				return 0
			}
			return v
		})
	} else {
		ep.System.SetPrior(nil)
		ep.System.SetReward(func(coverage, uniformity float64, collisions int) float64 {
			return coverage - uniformity - 0.05*float64(collisions)
		})
	}

	err = s.loop.Start(context.Background(), trainloop.Request{
		EpisodeID:       req.EpisodeID,
		NumEpisodes:     req.Episodes,
		EpisodeLen:      req.EpisodeLen,
		UseLLM:          req.UseLLM,
		TaskDescription: req.TaskDescription,
		Model:           req.LLMModel,
	})
	if err != nil {
		writeStatusForErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"started": true, "useLlm": req.UseLLM})
}

type stopRequest struct {
	EpisodeID string `json:"episodeId"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	req := stopRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.loop.StopEpisode(req.EpisodeID); err != nil {
		writeStatusForErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": true})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	episodeID := r.URL.Query().Get("episodeId")
	ep, err := s.store.Get(episodeID)
	if err != nil {
		writeStatusForErr(w, err)
		return
	}

	client, err := eventstream.NewClient(w, r, ep.TimelineSince, func(ev episode.Event) int { return ev.Seq })
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := client.Sync(); err != nil {
		log.Printf("server: stream for %s ended: %v", episodeID, err)
	}
}

type llmGenerateRequest struct {
	TaskDescription string               `json:"taskDescription"`
	EnvParams       llmadapter.EnvParams `json:"envParams"`
	Model           string               `json:"model"`
	Temperature     float64              `json:"temperature"`
	UseCoT          bool                 `json:"useCot"`
	UseBasicAPIs    bool                 `json:"useBasicApis"`
}

func (s *Server) handleLLMGenerate(w http.ResponseWriter, r *http.Request) {
	req := llmGenerateRequest{Model: s.cfg.LLM.DefaultModel, Temperature: s.cfg.LLM.DefaultTemperature}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	doc, err := s.generator.Generate(r.Context(), req.TaskDescription, req.EnvParams, req.Model, req.Temperature, req.UseCoT, req.UseBasicAPIs)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("%w: %v", lamarlerr.ErrLLMUnavailable, err))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleLLMValidate(w http.ResponseWriter, r *http.Request) {
	doc := llmadapter.Document{}
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, llmadapter.Validate(doc))
}

// llmOperation describes one whitelisted prior-policy operation for the
// /llm/operations listing.
type llmOperation struct {
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	OptionalParameters []string `json:"optionalParameters"`
}

// llmMetric describes one reward-formula variable for the /llm/operations
// listing.
type llmMetric struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Range       string `json:"range"`
}

func (s *Server) handleLLMOperations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"operations": []llmOperation{
			{Name: string(priordsl.OpMoveToShapeCenter), Description: "steer toward the target shape's centroid"},
			{Name: string(priordsl.OpAvoidNeighbors), Description: "push away from neighbors closer than radius", OptionalParameters: []string{"radius"}},
			{Name: string(priordsl.OpKeepGridUniformity), Description: "steer a tenth of the way toward the mean neighbor position (cell_size is accepted but not used)", OptionalParameters: []string{"cell_size"}},
			{Name: string(priordsl.OpSynchronizeVelocity), Description: "align velocity with nearby robots"},
			{Name: string(priordsl.OpExploreEmptyCells), Description: "steer toward the first unoccupied cell among the sampled nearby cells"},
		},
		"metrics": []llmMetric{
			{Name: "coverage", Description: "fraction of target-shape cells currently occupied", Range: "[0, 1]"},
			{Name: "uniformity", Description: "variance of per-robot nearest-robot assignment counts over sampled shape cells; lower is more uniform", Range: "[0, inf)"},
			{Name: "collisions", Description: "number of colliding robot pairs this step", Range: "[0, inf)"},
		},
	})
}

func (s *Server) handleLLMHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeStatusForErr maps a lamarlerr sentinel to its HTTP status, defaulting
// to 500 for anything unrecognized.
func writeStatusForErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lamarlerr.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, lamarlerr.ErrGeometryInfeasible), errors.Is(err, lamarlerr.ErrBadShape),
		errors.Is(err, lamarlerr.ErrSchemaViolation), errors.Is(err, lamarlerr.ErrExprRejected):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, lamarlerr.ErrLLMUnavailable):
		writeError(w, http.StatusBadGateway, err)
	case errors.Is(err, lamarlerr.ErrLLMMalformed), errors.Is(err, lamarlerr.ErrLLMRejected):
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

// decodeJSONIfPresent decodes r's body into v only when a body was sent,
// leaving v's caller-supplied defaults untouched for an empty POST.
func decodeJSONIfPresent(r *http.Request, v interface{}) error {
	if r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("server: decoding request body: %w", err)
	}
	return nil
}

// Package api serves the controller over HTTP: stored sequences are a babyapi resource and the controller's
// operations are custom routes. Positions are published as server-sent events
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/calvinmclean/babyapi"
	"github.com/calvinmclean/babyapi/storage/kv"
	"github.com/go-chi/render"
	"github.com/tarmac-project/hord"
	"github.com/tarmac-project/hord/drivers/hashmap"
	"go.uber.org/zap"

	"github.com/calvinmclean/maestro"
	"github.com/calvinmclean/maestro/commands"
	"github.com/calvinmclean/maestro/config"
	"github.com/calvinmclean/maestro/sequence"
)

// PositionsEvent is the name of the server-sent event published after moves
const PositionsEvent = "positions"

// Sequence is a stored sequence document
type Sequence struct {
	babyapi.DefaultResource
	Name string `json:"name"`
	sequence.Document
}

// Bind validates a Sequence from a request body. Frames are checked against the channel count when they run
func (s *Sequence) Bind(r *http.Request) error {
	err := s.DefaultResource.Bind(r)
	if err != nil {
		return err
	}

	switch r.Method {
	case http.MethodPost, http.MethodPut:
		if s.Name == "" {
			return errors.New("missing required name field")
		}
		if len(s.Body) == 0 {
			return errors.New("sequence body must have at least one frame")
		}
	}

	if s.NumberOfTimes < 0 {
		return fmt.Errorf("invalid number_of_times %d", s.NumberOfTimes)
	}
	return nil
}

// API is the HTTP front end of one controller
type API struct {
	*babyapi.API[*Sequence]

	exec   *commands.Executor
	events chan *babyapi.ServerSentEvent
	logger *zap.SugaredLogger
}

// New creates the API with its own Executor for ctrl. Sequences are stored in the hashmap file dbFile, or only in
// memory when dbFile is empty
func New(ctrl commands.Controller, dbFile string, logger *zap.SugaredLogger) (*API, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	db, err := kv.NewFileDB(hashmap.Config{Filename: dbFile})
	if err != nil {
		return nil, fmt.Errorf("error setting up sequence storage: %w", err)
	}

	return NewWithDB(ctrl, db, logger), nil
}

// NewWithDB creates the API using a hord.Database for sequence storage
func NewWithDB(ctrl commands.Controller, db hord.Database, logger *zap.SugaredLogger) *API {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	a := &API{
		API:    babyapi.NewAPI("Sequences", "/sequences", func() *Sequence { return &Sequence{} }),
		logger: logger,
	}
	a.SetStorage(babyapi.NewKVStorage[*Sequence](db, "sequences"))

	a.events = a.AddServerSentEventHandler("/events")
	a.exec = commands.NewExecutor(ctrl, logger.Named("commands")).WithBroadcaster(a)

	a.AddCustomIDRoute(http.MethodPost, "/run", babyapi.Handler(a.runSequence))
	a.AddCustomIDRoute(http.MethodPost, "/export", babyapi.Handler(a.exportSequence))

	a.AddCustomRootRoute(http.MethodPost, "/run", babyapi.Handler(a.runFrames))
	a.AddCustomRootRoute(http.MethodPost, "/move", babyapi.Handler(a.move))
	a.AddCustomRootRoute(http.MethodPost, "/target", babyapi.Handler(a.setTarget))
	a.AddCustomRootRoute(http.MethodPost, "/speed", babyapi.Handler(a.setSpeed))
	a.AddCustomRootRoute(http.MethodPost, "/home", babyapi.Handler(a.simple(commands.GoHome{})))
	a.AddCustomRootRoute(http.MethodPost, "/sethome", babyapi.Handler(a.simple(commands.SetHome{})))
	a.AddCustomRootRoute(http.MethodGet, "/positions", babyapi.Handler(a.simple(commands.GetPositions{})))
	a.AddCustomRootRoute(http.MethodPost, "/stopscript", babyapi.Handler(a.simple(commands.StopScript{})))
	a.AddCustomRootRoute(http.MethodGet, "/config", babyapi.Handler(a.getConfig))
	a.AddCustomRootRoute(http.MethodPost, "/config/save", babyapi.Handler(a.saveConfig))
	a.AddCustomRootRoute(http.MethodPost, "/config/load", babyapi.Handler(a.loadConfig))

	return a
}

// Executor returns the Executor that runs every request's commands
func (a *API) Executor() *commands.Executor {
	return a.exec
}

// Run starts the Executor. Requests block until it runs
func (a *API) Run(ctx context.Context) {
	a.exec.Run(ctx)
}

// Positions implements commands.Broadcaster. Events are dropped while nobody is listening
func (a *API) Positions(positions []float64) {
	data, err := json.Marshal(positionsResponse{Positions: positions})
	if err != nil {
		a.logger.Errorw("error encoding positions", "error", err)
		return
	}

	select {
	case a.events <- &babyapi.ServerSentEvent{Event: PositionsEvent, Data: string(data)}:
	default:
		a.logger.Debugw("no listeners for positions event")
	}
}

type positionsResponse struct {
	Positions []float64 `json:"positions"`
}

// ResultResponse is the body returned by the controller routes
type ResultResponse struct {
	commands.Result
}

func (*ResultResponse) Render(http.ResponseWriter, *http.Request) error {
	return nil
}

// MoveRequest moves every channel
type MoveRequest struct {
	Targets    []float64    `json:"targets"`
	Unit       maestro.Unit `json:"unit"`
	MatchSpeed bool         `json:"match_speed"`
	Wait       bool         `json:"wait"`
}

func (m *MoveRequest) Bind(*http.Request) error {
	if len(m.Targets) == 0 {
		return errors.New("missing required targets field")
	}
	return nil
}

// TargetRequest moves one channel
type TargetRequest struct {
	Channel int          `json:"channel"`
	Value   float64      `json:"value"`
	Unit    maestro.Unit `json:"unit"`
}

func (*TargetRequest) Bind(*http.Request) error {
	return nil
}

// SpeedRequest sets one channel's speed, or every channel's speed when Speeds is set
type SpeedRequest struct {
	Channel int   `json:"channel"`
	Speed   int   `json:"speed"`
	Speeds  []int `json:"speeds,omitempty"`
}

func (*SpeedRequest) Bind(*http.Request) error {
	return nil
}

// RunRequest plays frames that are not stored
type RunRequest struct {
	Frames []sequence.Frame `json:"frames"`
	Repeat int              `json:"repeat"`
}

func (r *RunRequest) Bind(*http.Request) error {
	if len(r.Frames) == 0 {
		return errors.New("missing required frames field")
	}
	if r.Repeat < 0 {
		return fmt.Errorf("invalid repeat %d", r.Repeat)
	}
	if r.Repeat == 0 {
		r.Repeat = 1
	}
	return nil
}

// ExportRequest names the .seq file a stored sequence is written to
type ExportRequest struct {
	Filename string `json:"filename"`
}

func (e *ExportRequest) Bind(*http.Request) error {
	if e.Filename == "" {
		return errors.New("missing required filename field")
	}
	return nil
}

// ConfigFileRequest names a config file. An empty Filename uses the controller's configured file
type ConfigFileRequest struct {
	Filename string `json:"filename"`
}

func (*ConfigFileRequest) Bind(*http.Request) error {
	return nil
}

func (a *API) runSequence(_ http.ResponseWriter, r *http.Request) render.Renderer {
	seq, httpErr := a.GetRequestedResource(r)
	if httpErr != nil {
		return httpErr
	}

	repeat := seq.Repeat()
	if times := r.URL.Query().Get("times"); times != "" {
		n, err := strconv.Atoi(times)
		if err != nil || n < 0 {
			return babyapi.ErrInvalidRequest(fmt.Errorf("invalid times %q", times))
		}
		// 0 keeps the stored number_of_times
		if n > 0 {
			repeat = n
		}
	}

	a.logger.Infow("running stored sequence", "id", seq.GetID(), "name", seq.Name, "repeat", repeat)
	return a.submit(r, commands.RunSequence{Frames: seq.Body, Repeat: repeat})
}

func (a *API) runFrames(_ http.ResponseWriter, r *http.Request) render.Renderer {
	var req RunRequest
	if err := render.Bind(r, &req); err != nil {
		return babyapi.ErrInvalidRequest(err)
	}
	return a.submit(r, commands.RunSequence{Frames: req.Frames, Repeat: req.Repeat})
}

func (a *API) move(_ http.ResponseWriter, r *http.Request) render.Renderer {
	var req MoveRequest
	if err := render.Bind(r, &req); err != nil {
		return babyapi.ErrInvalidRequest(err)
	}
	return a.submit(r, commands.Move{
		Targets:    maestro.Vector(req.Unit, req.Targets...),
		MatchSpeed: req.MatchSpeed,
		Wait:       req.Wait,
	})
}

func (a *API) setTarget(_ http.ResponseWriter, r *http.Request) render.Renderer {
	var req TargetRequest
	if err := render.Bind(r, &req); err != nil {
		return babyapi.ErrInvalidRequest(err)
	}
	return a.submit(r, commands.SetTarget{
		Channel: req.Channel,
		Target:  maestro.Target{Value: req.Value, Unit: req.Unit},
	})
}

func (a *API) setSpeed(_ http.ResponseWriter, r *http.Request) render.Renderer {
	var req SpeedRequest
	if err := render.Bind(r, &req); err != nil {
		return babyapi.ErrInvalidRequest(err)
	}

	if req.Speeds == nil {
		return a.submit(r, commands.SetSpeed{Channel: req.Channel, Speed: req.Speed})
	}
	return a.submit(r, commands.SetSpeeds{Speeds: req.Speeds})
}

func (a *API) exportSequence(_ http.ResponseWriter, r *http.Request) render.Renderer {
	seq, httpErr := a.GetRequestedResource(r)
	if httpErr != nil {
		return httpErr
	}

	var req ExportRequest
	if err := render.Bind(r, &req); err != nil {
		return babyapi.ErrInvalidRequest(err)
	}

	doc := seq.Document
	a.logger.Infow("exporting stored sequence", "id", seq.GetID(), "name", seq.Name, "filename", req.Filename)
	return a.submit(r, commands.SaveSequence{Document: &doc, Filename: req.Filename})
}

func (a *API) simple(cmd commands.Command) func(http.ResponseWriter, *http.Request) render.Renderer {
	return func(_ http.ResponseWriter, r *http.Request) render.Renderer {
		return a.submit(r, cmd)
	}
}

// ConfigResponse is the controller's current configuration
type ConfigResponse struct {
	*config.ControllerConfig
}

func (*ConfigResponse) Render(http.ResponseWriter, *http.Request) error {
	return nil
}

func (a *API) getConfig(_ http.ResponseWriter, r *http.Request) render.Renderer {
	result, err := a.exec.Submit(r.Context(), commands.ShowConfig{})
	if err != nil {
		return errResponse(err)
	}
	return &ConfigResponse{result.Config}
}

func (a *API) saveConfig(_ http.ResponseWriter, r *http.Request) render.Renderer {
	var req ConfigFileRequest
	if err := render.Bind(r, &req); err != nil {
		return babyapi.ErrInvalidRequest(err)
	}
	return a.submit(r, commands.SaveConfig{Filename: req.Filename})
}

func (a *API) loadConfig(_ http.ResponseWriter, r *http.Request) render.Renderer {
	var req ConfigFileRequest
	if err := render.Bind(r, &req); err != nil {
		return babyapi.ErrInvalidRequest(err)
	}
	return a.submit(r, commands.LoadConfig{Filename: req.Filename})
}

func (a *API) submit(r *http.Request, cmd commands.Command) render.Renderer {
	result, err := a.exec.Submit(r.Context(), cmd)
	if err != nil {
		a.logger.Errorw("error executing command", "command", fmt.Sprintf("%T", cmd), "error", err)
		return errResponse(err)
	}
	return &ResultResponse{result}
}

// errResponse maps the controller's errors to HTTP statuses
func errResponse(err error) *babyapi.ErrResponse {
	switch {
	case errors.Is(err, maestro.ErrPrecondition), errors.Is(err, maestro.ErrChannelRange):
		return babyapi.ErrInvalidRequest(err)
	case errors.Is(err, maestro.ErrTransportUnavailable),
		errors.Is(err, maestro.ErrConnection),
		errors.Is(err, maestro.ErrResponseTimeout),
		errors.Is(err, commands.ErrStopped):
		return &babyapi.ErrResponse{
			Err:            err,
			HTTPStatusCode: http.StatusServiceUnavailable,
			StatusText:     "Controller unavailable.",
			ErrorText:      err.Error(),
		}
	default:
		return babyapi.InternalServerError(err)
	}
}

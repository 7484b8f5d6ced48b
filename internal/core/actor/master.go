package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/b2500meter/internal/core/domain"
	"github.com/berfenger/b2500meter/internal/core/port"
	"github.com/berfenger/b2500meter/internal/core/service"
	. "github.com/berfenger/b2500meter/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

const (
	DEFAULT_VALIDATION_TIMEOUT = 120 * time.Second
	validationFetchSlack       = 30 * time.Second
)

type MasterConfig struct {
	SkipSourceValidation bool
	// ValidationTimeout bounds the wait for each source's first message.
	ValidationTimeout time.Duration
}

// MasterActor owns the power sources and emulators. It validates sources,
// starts the emulators, answers health checks and tears everything down
// when stopped.
type MasterActor struct {
	ActorWithStates
	config    MasterConfig
	routes    []service.Route
	emulators []port.Emulator
	stash     *Stash
	logger    *zap.Logger

	started        []string
	pendingReplyTo *actor.PID
	cancelValidate context.CancelFunc
	stopped        bool
}

func NewMasterActor(cfg MasterConfig, routes []service.Route, emulators []port.Emulator, logger *zap.Logger) *MasterActor {
	if cfg.ValidationTimeout <= 0 {
		cfg.ValidationTimeout = DEFAULT_VALIDATION_TIMEOUT
	}
	act := &MasterActor{
		config:    cfg,
		routes:    routes,
		emulators: emulators,
		stash:     &Stash{},
		logger:    ActorLogger(domain.ACTOR_ID_MASTER, logger),
	}
	act.ActorWithStates = NewActorWithStates(idleState{act})
	return act
}

func (state *MasterActor) Receive(ctx actor.Context) {
	switch ctx.Message().(type) {
	case *actor.Stopping:
		state.logger.Debug("master@stopping")
		state.shutdown()
		return
	}
	state.Behavior.Receive(ctx)
}

// idle: waiting for the start request

type idleState struct {
	*MasterActor
}

func (s idleState) Name() string {
	return "idle"
}

func (s idleState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		s.logger.Debug("master@idle started")
	case domain.StartEmulatorsRequest:
		s.logger.Debug("master@idle StartEmulatorsRequest")
		s.pendingReplyTo = ForRequest(msg).ReplyTo(ctx)
		if s.config.SkipSourceValidation || len(s.routes) == 0 {
			s.logger.Info("master@idle skipping power source validation")
			s.startEmulators(ctx)
			return
		}
		s.validateSources(ctx)
		s.Become(validatingState{s.MasterActor})
	case domain.ActorHealthRequest:
		s.respondHealth(ctx, msg)
	default:
		s.logger.Debug("master@idle ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// validating: background validation running

type validatingState struct {
	*MasterActor
}

func (s validatingState) Name() string {
	return "validating"
}

func (s validatingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ValidateSourcesResponse:
		s.cancelValidate = nil
		if msg.HasResponseError() {
			s.logger.Error("master@validating power source validation failed", zap.Error(msg.GetResponseError()))
			s.reply(ctx, domain.StartEmulatorsResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: msg.GetResponseError()},
			})
			s.Become(failedState{s.MasterActor})
			s.stash.UnstashAll(ctx)
			return
		}
		for name, reading := range msg.Readings {
			s.logger.Info("master@validating power source ok", zap.String("source", name), zap.Float64s("watts", reading))
		}
		s.startEmulators(ctx)
		s.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		s.respondHealth(ctx, msg)
	default:
		s.logger.Debug("master@validating stash", zap.String("type", fmt.Sprintf("%T", msg)))
		s.stash.Stash(ctx, msg)
	}
}

// running: emulators serving

type runningState struct {
	*MasterActor
}

func (s runningState) Name() string {
	return "running"
}

func (s runningState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		s.respondHealth(ctx, msg)
	case domain.StartEmulatorsRequest:
		ForRequest(msg).Respond(ctx, domain.StartEmulatorsResponse{Started: s.started})
	default:
		s.logger.Debug("master@running ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// failed: startup did not complete

type failedState struct {
	*MasterActor
}

func (s failedState) Name() string {
	return "failed"
}

func (s failedState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		s.respondHealth(ctx, msg)
	case domain.StartEmulatorsRequest:
		ForRequest(msg).Respond(ctx, domain.StartEmulatorsResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: errors.New("startup failed")},
		})
	default:
		s.logger.Debug("master@failed ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MasterActor) validateSources(ctx actor.Context) {
	vctx, cancel := context.WithCancel(context.Background())
	state.cancelValidate = cancel
	routes := state.routes
	waitTimeout := state.config.ValidationTimeout
	self := ctx.Self()
	root := ctx.ActorSystem().Root
	logger := state.logger

	NewBackgroundTask(ctx, func() (*domain.ValidateSourcesResponse, error) {
		defer cancel()
		return ValidateSources(vctx, routes, waitTimeout, logger), nil
	}).WithTimeout(time.Duration(len(routes)) * (waitTimeout + validationFetchSlack)).OnError(func(err error) {
		cancel()
		root.Send(self, domain.ValidateSourcesResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: fmt.Errorf("validation: %w", err)},
		})
	}).PipeTo(self)
}

// ValidateSources waits for each source's first message and fetches one
// reading from it, in route order.
func ValidateSources(ctx context.Context, routes []service.Route, waitTimeout time.Duration, logger *zap.Logger) *domain.ValidateSourcesResponse {
	readings := make(map[string]domain.Reading, len(routes))
	for _, route := range routes {
		logger.Info("master@validate testing power source", zap.String("source", route.Name))
		if err := route.Source.WaitForMessage(ctx, waitTimeout); err != nil {
			return &domain.ValidateSourcesResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: fmt.Errorf("%s: %w", route.Name, err)},
			}
		}
		reading, err := route.Source.Fetch(ctx)
		if err != nil {
			return &domain.ValidateSourcesResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: fmt.Errorf("%s: %w", route.Name, err)},
			}
		}
		readings[route.Name] = reading
	}
	return &domain.ValidateSourcesResponse{Readings: readings}
}

func (state *MasterActor) startEmulators(ctx actor.Context) {
	var started []port.Emulator
	for _, em := range state.emulators {
		if err := em.Start(); err != nil {
			state.logger.Error("master@start emulator failed", zap.String("emulator", em.Name()), zap.Error(err))
			for _, s := range started {
				s.Stop()
			}
			state.reply(ctx, domain.StartEmulatorsResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: fmt.Errorf("start %s: %w", em.Name(), err)},
			})
			state.Become(failedState{state})
			return
		}
		state.logger.Info("master@start emulator started", zap.String("emulator", em.Name()))
		started = append(started, em)
		state.started = append(state.started, em.Name())
	}
	state.Become(runningState{state})
	state.reply(ctx, domain.StartEmulatorsResponse{Started: state.started})
}

func (state *MasterActor) reply(ctx actor.Context, resp domain.StartEmulatorsResponse) {
	if state.pendingReplyTo != nil {
		ctx.Send(state.pendingReplyTo, resp)
		state.pendingReplyTo = nil
	}
}

func (state *MasterActor) respondHealth(ctx actor.Context, req domain.ActorHealthRequest) {
	resp := domain.ActorHealthResponse{
		Id:    domain.ACTOR_ID_MASTER,
		State: state.StateName(),
	}
	if resp.State == "running" {
		for _, em := range state.emulators {
			if !em.Healthy() {
				resp.Failing = append(resp.Failing, em.Name())
			}
		}
		resp.Healthy = len(resp.Failing) == 0
	}
	state.logger.Debug("master@health", zap.String("state", resp.State), zap.Bool("healthy", resp.Healthy))
	ForRequest(req).Respond(ctx, resp)
}

func (state *MasterActor) shutdown() {
	if state.stopped {
		return
	}
	state.stopped = true
	if state.cancelValidate != nil {
		state.cancelValidate()
	}
	for _, em := range state.emulators {
		em.Stop()
	}
	for _, route := range state.routes {
		if closer, ok := route.Source.(port.PowerSourceCloser); ok {
			if err := closer.Close(); err != nil {
				state.logger.Warn("master@stopping close source failed", zap.String("source", route.Name), zap.Error(err))
			}
		}
	}
}

package domain

import (
	"github.com/asynkron/protoactor-go/actor"
)

const (
	ACTOR_ID_MASTER = "master"
)

type ActorRef actor.PID

type ActorRequest interface {
	ReplyTo() *ActorRef
}

type ActorRequestMixIn struct {
	ReplyToRef *ActorRef
}

func (r ActorRequestMixIn) ReplyTo() *ActorRef {
	return r.ReplyToRef
}

type ActorResponse interface {
	GetResponseError() error
	HasResponseError() bool
}

type ActorResponseMixIn struct {
	ResponseError error
}

func (r ActorResponseMixIn) GetResponseError() error {
	return r.ResponseError
}

func (r ActorResponseMixIn) HasResponseError() bool {
	return r.ResponseError != nil
}

// StartEmulatorsRequest asks the master actor to validate the configured
// power sources and bring every emulator up.
type StartEmulatorsRequest struct {
	ActorRequestMixIn
}

type StartEmulatorsResponse struct {
	ActorResponseMixIn
	Started []string
}

type ValidateSourcesResponse struct {
	ActorResponseMixIn
	Readings map[string]Reading
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
	Failing []string
}

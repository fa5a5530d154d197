package output

import "browser-session/internal/domain/entity"

// HostCallbacks is how a session reports outcomes to the embedding application.
type HostCallbacks interface {
	OnConnectionComplete(entity.ConnectionComplete)
	OnConnectionError(entity.ConnectionError)
	OnDataComplete(entity.DataComplete)
	OnPromptComplete(entity.PromptComplete)
	OnExit(reason string)
}

// HostFuncs adapts plain functions to HostCallbacks. Nil fields are skipped.
type HostFuncs struct {
	ConnectionComplete func(entity.ConnectionComplete)
	ConnectionError    func(entity.ConnectionError)
	DataComplete       func(entity.DataComplete)
	PromptComplete     func(entity.PromptComplete)
	Exit               func(reason string)
}

var _ HostCallbacks = HostFuncs{}

func (h HostFuncs) OnConnectionComplete(e entity.ConnectionComplete) {
	if h.ConnectionComplete != nil {
		h.ConnectionComplete(e)
	}
}

func (h HostFuncs) OnConnectionError(e entity.ConnectionError) {
	if h.ConnectionError != nil {
		h.ConnectionError(e)
	}
}

func (h HostFuncs) OnDataComplete(e entity.DataComplete) {
	if h.DataComplete != nil {
		h.DataComplete(e)
	}
}

func (h HostFuncs) OnPromptComplete(e entity.PromptComplete) {
	if h.PromptComplete != nil {
		h.PromptComplete(e)
	}
}

func (h HostFuncs) OnExit(reason string) {
	if h.Exit != nil {
		h.Exit(reason)
	}
}

package session

import (
	"context"
	"fmt"
)

// Action is a transport command sent to a peer.
type Action string

const (
	ActionPlay      Action = "play"
	ActionPause     Action = "pause"
	ActionStop      Action = "stop"
	ActionNext      Action = "next"
	ActionPrevious  Action = "previous"
	ActionSetVolume Action = "set-volume"
)

// ParseAction validates a command name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionPlay, ActionPause, ActionStop, ActionNext, ActionPrevious, ActionSetVolume:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// Command is one outbound remote-control message. Volume is only meaningful
// for ActionSetVolume and is in the range 0 to 1.
type Command struct {
	Action Action  `json:"action"`
	Volume float64 `json:"volume,omitempty"`
}

// Commander delivers commands to the peer of a session. It is implemented by
// the transport layer.
type Commander interface {
	SendRemoteCommand(ctx context.Context, cmd Command) error
}

// CommanderFunc adapts a function to Commander.
type CommanderFunc func(ctx context.Context, cmd Command) error

// SendRemoteCommand calls f.
func (f CommanderFunc) SendRemoteCommand(ctx context.Context, cmd Command) error {
	return f(ctx, cmd)
}

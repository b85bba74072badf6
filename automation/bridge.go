package automation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nstehr/autocast/ipc"
)

// Bridge wires ipc peers to the orchestrator. Producers stream game_state
// frames into the feed; controllers drive the engine with commands.
type Bridge struct {
	Orchestrator *Orchestrator
	Feed         *ipc.Feed

	// ctx bounds engine runs started by a start command.
	ctx context.Context
}

func NewBridge(ctx context.Context, o *Orchestrator, feed *ipc.Feed) *Bridge {
	return &Bridge{Orchestrator: o, Feed: feed, ctx: ctx}
}

// Setup registers the bridge handlers on a new connection. It is the
// ipc.Server setup hook.
func (b *Bridge) Setup(c *ipc.Connection) {
	c.RegisterHandler(ipc.TypeHello, func(env ipc.Envelope) (*ipc.Envelope, error) {
		return b.HandleHello(c, env)
	})
	c.RegisterHandler(ipc.TypeGameState, b.Feed.HandleGameState)
	c.RegisterHandler(ipc.TypeCommand, b.HandleCommand)
}

// HandleHello completes the handshake so the peer knows the bridge is ready.
func (b *Bridge) HandleHello(c *ipc.Connection, env ipc.Envelope) (*ipc.Envelope, error) {
	var hello ipc.HelloMessage
	if err := env.Decode(&hello); err != nil {
		return nil, err
	}
	if hello.Client == "" {
		return nil, fmt.Errorf("hello without a client name")
	}
	c.SetClient(hello.Client)
	slog.Info("peer identified", "client", hello.Client, "role", hello.Role,
		"character", hello.Character, "class", hello.Class)

	if p := b.Orchestrator.Profile(); p != nil && hello.Class != "" && hello.Class != p.Class {
		slog.Warn("peer class does not match loaded profile",
			"client", hello.Client, "class", hello.Class, "profile", p.Name, "profileClass", p.Class)
	}

	ack, err := ipc.NewEnvelope(ipc.TypeAck, ipc.AckMessage{Status: "ok"})
	if err != nil {
		return nil, err
	}
	return &ack, nil
}

// HandleCommand applies a control command and answers with the resulting
// status.
func (b *Bridge) HandleCommand(env ipc.Envelope) (*ipc.Envelope, error) {
	var cmd ipc.CommandMessage
	if err := env.Decode(&cmd); err != nil {
		return nil, err
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	slog.Info("command received", "command", cmd.Command, "profile", cmd.Profile)

	o := b.Orchestrator
	switch cmd.Command {
	case ipc.CommandStart:
		if err := o.Start(b.ctx); err != nil {
			return nil, err
		}
	case ipc.CommandStop:
		o.Stop()
	case ipc.CommandPause:
		if !o.Pause() {
			return nil, fmt.Errorf("cannot pause engine in state %s", o.State())
		}
	case ipc.CommandResume:
		if !o.Resume() {
			return nil, fmt.Errorf("cannot resume engine in state %s", o.State())
		}
	case ipc.CommandEmergencyStop:
		reason := cmd.Reason
		if reason == "" {
			reason = "Remote emergency stop"
		}
		o.EmergencyStop(reason)
	case ipc.CommandResetEmergency:
		o.ResetEmergencyStop()
	case ipc.CommandLoadProfile:
		if err := o.LoadProfile(cmd.Profile); err != nil {
			return nil, err
		}
	case ipc.CommandStatus:
	}

	status, err := ipc.NewEnvelope(ipc.TypeStatus, o.Status())
	if err != nil {
		return nil, err
	}
	return &status, nil
}

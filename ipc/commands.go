package ipc

import "fmt"

// Control commands a controller can send to the running engine.
const (
	CommandStart          = "start"
	CommandStop           = "stop"
	CommandPause          = "pause"
	CommandResume         = "resume"
	CommandEmergencyStop  = "emergency_stop"
	CommandResetEmergency = "reset_emergency"
	CommandStatus         = "status"
	CommandLoadProfile    = "load_profile"
)

var knownCommands = map[string]bool{
	CommandStart:          true,
	CommandStop:           true,
	CommandPause:          true,
	CommandResume:         true,
	CommandEmergencyStop:  true,
	CommandResetEmergency: true,
	CommandStatus:         true,
	CommandLoadProfile:    true,
}

type CommandMessage struct {
	Command string `json:"command"`
	Reason  string `json:"reason,omitempty"`
	Profile string `json:"profile,omitempty"` // load_profile only
}

func (c CommandMessage) Validate() error {
	if !knownCommands[c.Command] {
		return fmt.Errorf("unknown command %q", c.Command)
	}
	if c.Command == CommandLoadProfile && c.Profile == "" {
		return fmt.Errorf("load_profile needs a profile name")
	}
	return nil
}

package ipc

import "github.com/nstehr/autocast/model"

// Message types understood by the bridge. Producers send hello once, then a
// stream of game_state frames; controllers send command frames.
const (
	TypeHello     = "hello"
	TypeAck       = "ack"
	TypeError     = "error"
	TypeGameState = "game_state"
	TypeCommand   = "command"
	TypeStatus    = "status"
)

// HelloMessage identifies the peer. Role is "producer" for a state source
// and "controller" for a client that only sends commands.
type HelloMessage struct {
	Client    string          `json:"client"`
	Role      string          `json:"role,omitempty"`
	Character string          `json:"character,omitempty"`
	Class     model.ClassType `json:"class,omitempty"`
	Version   string          `json:"version,omitempty"`
}

const (
	RoleProducer   = "producer"
	RoleController = "controller"
)

// GameStateMessage is a snapshot as produced by the vision side.
type GameStateMessage struct {
	Seq   uint64          `json:"seq"`
	State model.GameState `json:"state"`
}

type AckMessage struct {
	Status string `json:"status"`
	Seq    uint64 `json:"seq,omitempty"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

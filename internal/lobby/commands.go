package lobby

import "encoding/json"

const (
	ClientCommandTypeJoin  = "join"
	ClientCommandTypeMove  = "move"
	ClientCommandTypeSpell = "spell"
	ClientCommandTypeCast  = "cast"
	ClientCommandTypeClear = "clear"
)

// ClientCommand is a command sent by a client. Data depends on Type.
type ClientCommand struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`

	client *Client
}

// SpellCommandData uploads a script. Loading it defines the spells the
// client can cast afterwards.
type SpellCommandData struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

type CastCommandData struct {
	Spell string        `json:"spell"`
	Args  []interface{} `json:"args"`
}

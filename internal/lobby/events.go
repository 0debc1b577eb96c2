package lobby

import "magikcraft/internal/magik"

const (
	errorUnknownCommand  = "unknown command"
	errorBadCommandData  = "bad command data"
	errorNotJoined       = "join first"
	errorAlreadyJoined   = "already joined"
	errorNicknameIsTaken = "nickname is taken"
)

type ClientInList struct {
	Id       uint64 `json:"id"`
	Nickname string `json:"nickname"`
}

type ClientJoinedEvent struct {
	YourId       uint64           `json:"yourId"`
	YourNickname string           `json:"yourNickname"`
	SessionId    string           `json:"sessionId"`
	Plugin       magik.PluginInfo `json:"plugin"`
	Clients      []*ClientInList  `json:"clients"`
}

type ClientBroadCastJoinedEvent struct {
	Id       uint64 `json:"id"`
	Nickname string `json:"nickname"`
}

type ClientLeftEvent struct {
	Id uint64 `json:"id"`
}

type ClientCommandError struct {
	Message string `json:"message"`
}

type SpellLoadedEvent struct {
	Name string `json:"name"`
}

type CastResultEvent struct {
	Spell   string        `json:"spell"`
	Results []interface{} `json:"results"`
}

type TimersClearedEvent struct {
	Cancelled int `json:"cancelled"`
}

package world

import "magikcraft/internal/magik"

type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type DamageEvent struct {
	TargetPlayer string  `json:"targetPlayer"`
	Damage       float64 `json:"damage"`
	Health       float64 `json:"health"`
}

type FireballEvent struct {
	Player    string         `json:"player"`
	From      magik.Location `json:"from"`
	Direction Vector         `json:"direction"`
}

type LightningEvent struct {
	Player string         `json:"player"`
	At     magik.Location `json:"at"`
}

type FireworkEvent struct {
	Player string         `json:"player"`
	At     magik.Location `json:"at"`
}

type TeleportEvent struct {
	Player string         `json:"player"`
	From   magik.Location `json:"from"`
	To     magik.Location `json:"to"`
}

type ItemManifestEvent struct {
	Player string `json:"player"`
	Item   string `json:"item"`
	Count  int    `json:"count"`
}

type JumpEvent struct {
	Player string  `json:"player"`
	Power  float64 `json:"power"`
	Height float64 `json:"height"`
}

type LevitateEvent struct {
	Player     string `json:"player"`
	DurationMs int64  `json:"durationMs"`
}

type FeedEvent struct {
	Player string  `json:"player"`
	Health float64 `json:"health"`
	Food   int     `json:"food"`
}

type TossEvent struct {
	Player string         `json:"player"`
	Target string         `json:"target"`
	To     magik.Location `json:"to"`
}

type IgniteEvent struct {
	Player     string `json:"player"`
	Target     string `json:"target"`
	DurationMs int64  `json:"durationMs"`
}

type MessageEvent struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

type PlayerState struct {
	Name     string         `json:"name"`
	Location magik.Location `json:"location"`
	Health   float64        `json:"health"`
	Food     int            `json:"food"`
	Flying   bool           `json:"flying"`
	OnFire   bool           `json:"onFire"`
}

type PlayersUpdateEvent struct {
	Players []PlayerState `json:"players"`
}

type PlayerJoinedEvent struct {
	Player   string         `json:"player"`
	Location magik.Location `json:"location"`
}

type PlayerLeftEvent struct {
	Player string `json:"player"`
}

type PlayerDeathEvent struct {
	Player string `json:"player"`
}

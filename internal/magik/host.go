package magik

import (
	"time"
)

// Host is the game server the façade delegates to. Every method acts on
// behalf of the named player, the one whose spell is running.
type Host interface {
	Plugin() PluginInfo
	// Sender returns nil when the player may not see their own sender
	// object, as on campaign servers.
	Sender(player string) (*PlayerInfo, error)

	Volare(player string, duration time.Duration) error
	Aspecto(player string) (Location, error)
	Caldarium(player string, ingredients []string) (string, error)
	Stella(player string, at Location) error
	Declaro(player string, item string) error
	// Shakti strikes at, or where the player is looking when at is nil.
	Shakti(player string, at *Location) error
	Satio(player string) error
	Random(player string, min, max int) (int, error)
	// Dixit sends message to target, or to player when target is empty.
	Dixit(player string, message string, target string) error
	Exsultus(player string, power float64) error
	Hic(player string) (Location, error)
	Iacta(player string, target string) error
	Ianuae(player string, to Location) error
	Incendium(player string, target string) error
	Infierno(player string) error
}

// PluginInfo describes the hosting plugin.
type PluginInfo struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	World        string `json:"world"`
	OpenPlatform bool   `json:"openPlatform"`
}

// PlayerInfo is what getSender hands to scripts.
type PlayerInfo struct {
	Name     string   `json:"name"`
	Location Location `json:"location"`
	Health   float64  `json:"health"`
	Food     int      `json:"food"`
	Flying   bool     `json:"flying"`
	OnFire   bool     `json:"onFire"`
}

package world

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"magikcraft/internal/caldarium"
	"magikcraft/internal/magik"
	"magikcraft/internal/scheduler"
)

const maxHealth = 20.0
const maxFood = 20

const groundLevel = 64.0
const lookReach = 50.0
const maxJumpHeight = 10.0
const tossDistance = 8.0
const tossHeight = 4.0
const lightningRadius = 3.0
const lightningDamage = 5.0
const burnDamagePerTick = 1.0

const defaultLevitation = 10 * time.Second
const burnDuration = 5 * time.Second

const playersUpdateTickPeriod = time.Second / 3

const fizzle = "The cauldron bubbles, but nothing happens."

var (
	ErrPlayerNotFound = errors.New("player not found")
	ErrPlayerExists   = errors.New("player already in world")
	ErrUnknownItem    = errors.New("unknown item")
	ErrUnknownWorld   = errors.New("unknown world")
	ErrPlayerDead     = errors.New("player is dead")
)

// knownItems are the codes declaro accepts.
var knownItems = map[string]bool{
	"elytra":          true,
	"diamond_sword":   true,
	"bow":             true,
	"arrow":           true,
	"golden_apple":    true,
	"ender_pearl":     true,
	"firework_rocket": true,
	"torch":           true,
	"shield":          true,
	"trident":         true,
}

// Recipes is the caldarium recipe book.
type Recipes interface {
	Brew(ctx context.Context, ingredients []string) (string, error)
}

type Config struct {
	PluginName   string
	Version      string
	Name         string
	OpenPlatform bool
	Spawn        magik.Location

	// Seed fixes the random source; zero seeds from the clock.
	Seed uint64
}

type Player struct {
	name            string
	location        magik.Location
	health          float64
	food            int
	levitatingUntil time.Time
	burningUntil    time.Time
	inventory       map[string]int
}

func newPlayer(name string, spawn magik.Location) *Player {
	return &Player{
		name:      name,
		location:  spawn,
		health:    maxHealth,
		food:      maxFood,
		inventory: make(map[string]int),
	}
}

// World is an in-memory stand-in for the game server. It implements
// magik.Host: every spell action changes player state and is announced
// to clients as an event.
type World struct {
	cfg                Config
	players            map[string]*Player
	mutex              sync.Mutex
	clock              scheduler.Clock
	random             *rand.Rand
	recipes            Recipes
	broadcastEventFunc func(event interface{})
	sendEventFunc      func(player string, event interface{}) bool
}

var _ magik.Host = (*World)(nil)

func NewWorld(
	cfg Config,
	recipes Recipes,
	clock scheduler.Clock,
	broadcastEventFunc func(event interface{}),
	sendEventFunc func(player string, event interface{}) bool,
) *World {
	if clock == nil {
		clock = scheduler.SystemClock
	}
	if cfg.Spawn.World == "" {
		cfg.Spawn.World = cfg.Name
	}
	if cfg.Spawn.Y == 0 {
		cfg.Spawn.Y = groundLevel
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(clock.Now().UnixNano())
	}
	if broadcastEventFunc == nil {
		broadcastEventFunc = func(interface{}) {}
	}
	if sendEventFunc == nil {
		sendEventFunc = func(string, interface{}) bool { return false }
	}

	log.WithField("world", cfg.Name).Info("[World] new world created")

	return &World{
		cfg:                cfg,
		players:            make(map[string]*Player),
		clock:              clock,
		random:             rand.New(rand.NewPCG(seed, seed>>1|1)),
		recipes:            recipes,
		broadcastEventFunc: broadcastEventFunc,
		sendEventFunc:      sendEventFunc,
	}
}

func (w *World) AddPlayer(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: player name is empty", magik.ErrInvalidArgument)
	}
	w.mutex.Lock()
	if _, ok := w.players[name]; ok {
		w.mutex.Unlock()
		return fmt.Errorf("%w: %s", ErrPlayerExists, name)
	}
	p := newPlayer(name, w.cfg.Spawn)
	w.players[name] = p
	w.mutex.Unlock()

	log.WithField("player", name).Info("[World] player joined")
	w.broadcastEventFunc(PlayerJoinedEvent{Player: name, Location: p.location})
	return nil
}

func (w *World) RemovePlayer(name string) {
	w.mutex.Lock()
	_, ok := w.players[name]
	delete(w.players, name)
	w.mutex.Unlock()

	if !ok {
		return
	}
	log.WithField("player", name).Info("[World] player left")
	w.broadcastEventFunc(PlayerLeftEvent{Player: name})
}

func (w *World) MovePlayer(name string, c MoveCommand) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	p, err := w.player(name)
	if err != nil {
		return err
	}
	p.location.X = c.X
	p.location.Y = c.Y
	p.location.Z = c.Z
	p.location.Yaw = c.Yaw
	p.location.Pitch = clamp(c.Pitch, -90, 90)
	return nil
}

// Players returns the state of every player, sorted by name.
func (w *World) Players() []PlayerState {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	now := w.clock.Now()
	states := make([]PlayerState, 0, len(w.players))
	for _, p := range w.players {
		states = append(states, w.state(p, now))
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}

// StartMainLoop periodically burns burning players and broadcasts the
// state of everyone until ctx is done.
func (w *World) StartMainLoop(ctx context.Context) {
	ticker := time.NewTicker(playersUpdateTickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *World) tick() {
	w.mutex.Lock()
	now := w.clock.Now()
	for _, p := range w.players {
		if p.health > 0 && now.Before(p.burningUntil) {
			w.damage(p, burnDamagePerTick)
		}
	}
	w.mutex.Unlock()

	w.broadcastEventFunc(PlayersUpdateEvent{Players: w.Players()})
}

func (w *World) Plugin() magik.PluginInfo {
	return magik.PluginInfo{
		Name:         w.cfg.PluginName,
		Version:      w.cfg.Version,
		World:        w.cfg.Name,
		OpenPlatform: w.cfg.OpenPlatform,
	}
}

func (w *World) Sender(player string) (*magik.PlayerInfo, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	p, err := w.player(player)
	if err != nil {
		return nil, err
	}
	if !w.cfg.OpenPlatform {
		return nil, nil
	}
	state := w.state(p, w.clock.Now())
	return &magik.PlayerInfo{
		Name:     state.Name,
		Location: state.Location,
		Health:   state.Health,
		Food:     state.Food,
		Flying:   state.Flying,
		OnFire:   state.OnFire,
	}, nil
}

func (w *World) Volare(player string, duration time.Duration) error {
	if duration == 0 {
		duration = defaultLevitation
	}
	w.mutex.Lock()
	p, err := w.alivePlayer(player)
	if err != nil {
		w.mutex.Unlock()
		return err
	}
	p.levitatingUntil = w.clock.Now().Add(duration)
	w.mutex.Unlock()

	w.broadcastEventFunc(LevitateEvent{Player: player, DurationMs: duration.Milliseconds()})
	return nil
}

func (w *World) Aspecto(player string) (magik.Location, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	p, err := w.player(player)
	if err != nil {
		return magik.Location{}, err
	}
	return lookingAt(p.location), nil
}

func (w *World) Caldarium(player string, ingredients []string) (string, error) {
	w.mutex.Lock()
	_, err := w.player(player)
	w.mutex.Unlock()
	if err != nil {
		return "", err
	}
	if w.recipes == nil {
		return fizzle, nil
	}

	secret, err := w.recipes.Brew(context.Background(), ingredients)
	if errors.Is(err, caldarium.ErrNoRecipe) {
		return fizzle, nil
	}
	if err != nil {
		return "", err
	}
	log.WithFields(log.Fields{
		"player":      player,
		"ingredients": ingredients,
	}).Info("[World] caldarium revealed a secret")
	return secret, nil
}

func (w *World) Stella(player string, at magik.Location) error {
	w.mutex.Lock()
	_, err := w.alivePlayer(player)
	w.mutex.Unlock()
	if err != nil {
		return err
	}
	at, err = w.inWorld(at)
	if err != nil {
		return err
	}

	w.broadcastEventFunc(FireworkEvent{Player: player, At: at})
	return nil
}

func (w *World) Declaro(player string, item string) error {
	item = strings.ToLower(strings.TrimSpace(item))
	if !knownItems[item] {
		return fmt.Errorf("%w: %s", ErrUnknownItem, item)
	}

	w.mutex.Lock()
	p, err := w.alivePlayer(player)
	if err != nil {
		w.mutex.Unlock()
		return err
	}
	p.inventory[item]++
	count := p.inventory[item]
	w.mutex.Unlock()

	w.broadcastEventFunc(ItemManifestEvent{Player: player, Item: item, Count: count})
	return nil
}

func (w *World) Shakti(player string, at *magik.Location) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	p, err := w.alivePlayer(player)
	if err != nil {
		return err
	}
	var strike magik.Location
	if at == nil {
		strike = lookingAt(p.location)
	} else {
		if strike, err = w.inWorld(*at); err != nil {
			return err
		}
	}

	w.broadcastEventFunc(LightningEvent{Player: player, At: strike})

	for _, other := range w.players {
		if other.health > 0 && other.location.Distance(strike) <= lightningRadius {
			w.damage(other, lightningDamage)
		}
	}
	return nil
}

func (w *World) Satio(player string) error {
	w.mutex.Lock()
	p, err := w.player(player)
	if err != nil {
		w.mutex.Unlock()
		return err
	}
	p.health = maxHealth
	p.food = maxFood
	w.mutex.Unlock()

	w.broadcastEventFunc(FeedEvent{Player: player, Health: maxHealth, Food: maxFood})
	return nil
}

func (w *World) Random(player string, min, max int) (int, error) {
	if min > max {
		return 0, fmt.Errorf("%w: min %d is greater than max %d", magik.ErrInvalidArgument, min, max)
	}
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if _, err := w.player(player); err != nil {
		return 0, err
	}
	// the span may not fit an int, so draw in uint64 and wrap back
	span := uint64(max) - uint64(min)
	var n uint64
	if span == math.MaxUint64 {
		n = w.random.Uint64()
	} else {
		n = w.random.Uint64N(span + 1)
	}
	return int(uint64(min) + n), nil
}

func (w *World) Dixit(player string, message string, target string) error {
	if target == "" {
		target = player
	}
	w.mutex.Lock()
	_, err := w.player(target)
	w.mutex.Unlock()
	if err != nil {
		return err
	}

	if !w.sendEventFunc(target, MessageEvent{From: player, Message: message}) {
		log.WithFields(log.Fields{
			"from": player,
			"to":   target,
		}).Warn("[World] message not delivered")
	}
	return nil
}

func (w *World) Exsultus(player string, power float64) error {
	power = clamp(power, 0, 100)
	height := maxJumpHeight * power / 100

	w.mutex.Lock()
	p, err := w.alivePlayer(player)
	if err != nil {
		w.mutex.Unlock()
		return err
	}
	p.location.Y += height
	w.mutex.Unlock()

	w.broadcastEventFunc(JumpEvent{Player: player, Power: power, Height: height})
	return nil
}

func (w *World) Hic(player string) (magik.Location, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	p, err := w.player(player)
	if err != nil {
		return magik.Location{}, err
	}
	return p.location, nil
}

func (w *World) Iacta(player string, target string) error {
	w.mutex.Lock()
	p, err := w.alivePlayer(player)
	if err != nil {
		w.mutex.Unlock()
		return err
	}
	victim, err := w.player(target)
	if err != nil {
		w.mutex.Unlock()
		return err
	}
	dir := direction(p.location.Yaw, 0)
	victim.location.X += dir.X * tossDistance
	victim.location.Z += dir.Z * tossDistance
	victim.location.Y += tossHeight
	to := victim.location
	w.mutex.Unlock()

	w.broadcastEventFunc(TossEvent{Player: player, Target: target, To: to})
	return nil
}

func (w *World) Ianuae(player string, to magik.Location) error {
	to, err := w.inWorld(to)
	if err != nil {
		return err
	}

	w.mutex.Lock()
	p, err := w.alivePlayer(player)
	if err != nil {
		w.mutex.Unlock()
		return err
	}
	from := p.location
	p.location = to
	w.mutex.Unlock()

	w.broadcastEventFunc(TeleportEvent{Player: player, From: from, To: to})
	return nil
}

func (w *World) Incendium(player string, target string) error {
	w.mutex.Lock()
	if _, err := w.alivePlayer(player); err != nil {
		w.mutex.Unlock()
		return err
	}
	victim, err := w.player(target)
	if err != nil {
		w.mutex.Unlock()
		return err
	}
	victim.burningUntil = w.clock.Now().Add(burnDuration)
	w.mutex.Unlock()

	w.broadcastEventFunc(IgniteEvent{Player: player, Target: target, DurationMs: burnDuration.Milliseconds()})
	return nil
}

func (w *World) Infierno(player string) error {
	w.mutex.Lock()
	p, err := w.alivePlayer(player)
	if err != nil {
		w.mutex.Unlock()
		return err
	}
	from := p.location
	w.mutex.Unlock()

	w.broadcastEventFunc(FireballEvent{
		Player:    player,
		From:      from,
		Direction: direction(from.Yaw, from.Pitch),
	})
	return nil
}

// player and the helpers after it expect w.mutex to be held.
func (w *World) player(name string) (*Player, error) {
	p, ok := w.players[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlayerNotFound, name)
	}
	return p, nil
}

func (w *World) alivePlayer(name string) (*Player, error) {
	p, err := w.player(name)
	if err != nil {
		return nil, err
	}
	if p.health <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrPlayerDead, name)
	}
	return p, nil
}

func (w *World) damage(p *Player, amount float64) {
	p.health -= amount
	if p.health < 0 {
		p.health = 0
	}
	w.broadcastEventFunc(DamageEvent{TargetPlayer: p.name, Damage: amount, Health: p.health})
	if p.health == 0 {
		w.killPlayer(p)
	}
}

func (w *World) killPlayer(p *Player) {
	p.health = 0
	p.burningUntil = time.Time{}
	p.levitatingUntil = time.Time{}
	w.broadcastEventFunc(PlayerDeathEvent{Player: p.name})
}

func (w *World) state(p *Player, now time.Time) PlayerState {
	return PlayerState{
		Name:     p.name,
		Location: p.location,
		Health:   p.health,
		Food:     p.food,
		Flying:   now.Before(p.levitatingUntil),
		OnFire:   now.Before(p.burningUntil),
	}
}

func (w *World) inWorld(loc magik.Location) (magik.Location, error) {
	if loc.World == "" {
		loc.World = w.cfg.Name
	}
	if loc.World != w.cfg.Name {
		return magik.Location{}, fmt.Errorf("%w: %s", ErrUnknownWorld, loc.World)
	}
	return loc, nil
}

// direction is the unit vector for a yaw/pitch pair. Yaw 0 faces +Z and
// positive pitch looks down.
func direction(yaw, pitch float64) Vector {
	y := yaw * math.Pi / 180
	p := pitch * math.Pi / 180
	return Vector{
		X: -math.Sin(y) * math.Cos(p),
		Y: -math.Sin(p),
		Z: math.Cos(y) * math.Cos(p),
	}
}

// lookingAt is the point the player looks at: the ground if it is within
// reach, otherwise the end of the reach.
func lookingAt(from magik.Location) magik.Location {
	dir := direction(from.Yaw, from.Pitch)
	distance := lookReach
	if dir.Y < 0 && from.Y > groundLevel {
		if toGround := (groundLevel - from.Y) / dir.Y; toGround < distance {
			distance = toGround
		}
	}
	at := from
	at.X = round2(from.X + dir.X*distance)
	at.Y = round2(from.Y + dir.Y*distance)
	at.Z = round2(from.Z + dir.Z*distance)
	return at
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

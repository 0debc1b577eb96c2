package magik

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"magikcraft/internal/memory"
	"magikcraft/internal/scheduler"
)

var ErrInvalidArgument = errors.New("invalid argument")

// Session identifies who a façade speaks for.
type Session struct {
	ID     string
	Player string
}

// Magik is the scripting façade bound to one session. Timers, memory and
// host calls all act for that session's player; namespaces are shared
// with every other session through the injected registry.
type Magik struct {
	session    Session
	host       Host
	timers     *scheduler.Group
	slot       *memory.Slot
	namespaces *memory.Registry
	log        *log.Entry
}

// New binds a façade to session. Timer callbacks that fail are reported
// to the player through dixit.
func New(session Session, host Host, sched *scheduler.Scheduler, slot *memory.Slot, namespaces *memory.Registry) *Magik {
	m := &Magik{
		session:    session,
		host:       host,
		slot:       slot,
		namespaces: namespaces,
		log: log.WithFields(log.Fields{
			"session": session.ID,
			"player":  session.Player,
		}),
	}
	m.timers = sched.NewGroup(session.ID, m.Report)
	return m
}

func (m *Magik) Session() Session {
	return m.session
}

// Timers exposes the session's timer group.
func (m *Magik) Timers() *scheduler.Group {
	return m.timers
}

// Close cancels every pending timer of the session.
func (m *Magik) Close() {
	m.timers.Stop()
}

// Report tells the player about err on the same channel dixit uses.
func (m *Magik) Report(err error) {
	if err == nil {
		return
	}
	m.log.WithError(err).Warn("[Magik] spell error")
	if dixitErr := m.host.Dixit(m.session.Player, "[magik] "+err.Error(), ""); dixitErr != nil {
		m.log.WithError(dixitErr).Error("[Magik] cannot report spell error")
	}
}

func (m *Magik) SetTimeout(callback scheduler.Callback, delay time.Duration) (scheduler.Handle, error) {
	h, err := m.timers.SetTimeout(callback, delay)
	if err != nil {
		return 0, invalid("setTimeout", err)
	}
	return h, nil
}

func (m *Magik) SetInterval(callback scheduler.Callback, delay time.Duration) (scheduler.Handle, error) {
	h, err := m.timers.SetInterval(callback, delay)
	if err != nil {
		return 0, invalid("setInterval", err)
	}
	return h, nil
}

// ClearInterval cancels a timeout or interval of this session.
func (m *Magik) ClearInterval(handle scheduler.Handle) {
	m.timers.ClearInterval(handle)
}

func (m *Magik) DoAfter(delayInSeconds float64, task scheduler.Callback) (scheduler.Handle, error) {
	h, err := m.timers.DoAfter(delayInSeconds, task)
	if err != nil {
		return 0, invalid("doAfter", err)
	}
	return h, nil
}

// DoNTimes runs task times times, delay apart, then callback if not nil.
// The returned handle cancels the rest of the chain.
func (m *Magik) DoNTimes(task scheduler.Callback, times int, delay time.Duration, callback scheduler.Callback) (scheduler.Handle, error) {
	h, err := m.timers.DoNTimes(task, times, delay, callback)
	if err != nil {
		if errors.Is(err, scheduler.ErrNilCallback) || errors.Is(err, scheduler.ErrNegativeDelay) ||
			errors.Is(err, scheduler.ErrInvalidTimes) || errors.Is(err, scheduler.ErrGroupStopped) {
			return 0, invalid("doNTimes", err)
		}
		// immediate empty runs surface the callback's own error
		return 0, err
	}
	return h, nil
}

// Memento replaces the whole memory with value.
func (m *Magik) Memento(value any) {
	m.slot.SetWhole(value)
}

// MementoField remembers value under key, keeping other keys.
func (m *Magik) MementoField(key any, value any) error {
	k, err := memory.Key(key)
	if err != nil {
		return invalid("memento", err)
	}
	m.slot.SetField(k, value)
	return nil
}

func (m *Magik) SetItem(key any, value any) error {
	return m.MementoField(key, value)
}

// GetItem returns nil for keys never remembered.
func (m *Magik) GetItem(key any) (any, error) {
	k, err := memory.Key(key)
	if err != nil {
		return nil, invalid("memento.getItem", err)
	}
	value, _ := m.slot.GetField(k)
	return value, nil
}

// Exmemento returns the whole memory, nil if nothing was remembered.
func (m *Magik) Exmemento() any {
	return m.slot.Get()
}

// Global returns the process-wide namespace called name.
func (m *Magik) Global(namespace string) (*memory.Namespace, error) {
	if strings.TrimSpace(namespace) == "" {
		return nil, fmt.Errorf("global: %w: namespace name is empty", ErrInvalidArgument)
	}
	return m.namespaces.Global(namespace), nil
}

func (m *Magik) GetPlugin() PluginInfo {
	return m.host.Plugin()
}

func (m *Magik) GetSender() (*PlayerInfo, error) {
	info, err := m.host.Sender(m.session.Player)
	if err != nil {
		return nil, hostErr("getSender", err)
	}
	return info, nil
}

// Volare lifts the player for duration; zero means the host's default.
func (m *Magik) Volare(duration time.Duration) error {
	if duration < 0 {
		return fmt.Errorf("volare: %w: duration must not be negative", ErrInvalidArgument)
	}
	return hostErr("volare", m.host.Volare(m.session.Player, duration))
}

func (m *Magik) Aspecto() (Location, error) {
	loc, err := m.host.Aspecto(m.session.Player)
	if err != nil {
		return Location{}, hostErr("aspecto", err)
	}
	return loc, nil
}

func (m *Magik) Caldarium(ingredients []string) (string, error) {
	if len(ingredients) == 0 {
		return "", fmt.Errorf("caldarium: %w: no ingredients", ErrInvalidArgument)
	}
	for _, ingredient := range ingredients {
		if strings.TrimSpace(ingredient) == "" {
			return "", fmt.Errorf("caldarium: %w: empty ingredient", ErrInvalidArgument)
		}
	}
	secret, err := m.host.Caldarium(m.session.Player, ingredients)
	if err != nil {
		return "", hostErr("caldarium", err)
	}
	return secret, nil
}

func (m *Magik) Stella(at Location) error {
	return hostErr("stella", m.host.Stella(m.session.Player, at))
}

func (m *Magik) Declaro(item string) error {
	if strings.TrimSpace(item) == "" {
		return fmt.Errorf("declaro: %w: item is empty", ErrInvalidArgument)
	}
	return hostErr("declaro", m.host.Declaro(m.session.Player, item))
}

// Shakti strikes lightning at, or where the player looks when at is nil.
func (m *Magik) Shakti(at *Location) error {
	return hostErr("shakti", m.host.Shakti(m.session.Player, at))
}

func (m *Magik) Satio() error {
	return hostErr("satio", m.host.Satio(m.session.Player))
}

// Random returns an integer in [min, max].
func (m *Magik) Random(min, max int) (int, error) {
	if min > max {
		return 0, fmt.Errorf("random: %w: min %d is greater than max %d", ErrInvalidArgument, min, max)
	}
	n, err := m.host.Random(m.session.Player, min, max)
	if err != nil {
		return 0, hostErr("random", err)
	}
	return n, nil
}

// Dixit prints message to the player, or to playername when given.
func (m *Magik) Dixit(message string, playername string) error {
	return hostErr("dixit", m.host.Dixit(m.session.Player, message, playername))
}

// Exsultus jumps with power percent of the maximum jump.
func (m *Magik) Exsultus(power float64) error {
	if math.IsNaN(power) || power < 0 || power > 100 {
		return fmt.Errorf("exsultus: %w: power must be between 0 and 100, got %v", ErrInvalidArgument, power)
	}
	return hostErr("exsultus", m.host.Exsultus(m.session.Player, power))
}

func (m *Magik) Hic() (Location, error) {
	loc, err := m.host.Hic(m.session.Player)
	if err != nil {
		return Location{}, hostErr("hic", err)
	}
	return loc, nil
}

func (m *Magik) Iacta(playername string) error {
	if strings.TrimSpace(playername) == "" {
		return fmt.Errorf("iacta: %w: player name is empty", ErrInvalidArgument)
	}
	return hostErr("iacta", m.host.Iacta(m.session.Player, playername))
}

func (m *Magik) Ianuae(to Location) error {
	return hostErr("ianuae", m.host.Ianuae(m.session.Player, to))
}

func (m *Magik) Incendium(playername string) error {
	if strings.TrimSpace(playername) == "" {
		return fmt.Errorf("incendium: %w: player name is empty", ErrInvalidArgument)
	}
	return hostErr("incendium", m.host.Incendium(m.session.Player, playername))
}

func (m *Magik) Infierno() error {
	return hostErr("infierno", m.host.Infierno(m.session.Player))
}

func invalid(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrInvalidArgument, err)
}

func hostErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

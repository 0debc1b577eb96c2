package lobby

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"magikcraft/internal/magik"
	"magikcraft/internal/memory"
	"magikcraft/internal/scheduler"
	"magikcraft/internal/spell"
	"magikcraft/internal/world"
)

var lastClientId uint64

// World is the part of the game world the lobby drives directly. Spells
// reach the rest of it through magik.Host.
type World interface {
	magik.Host
	AddPlayer(name string) error
	RemovePlayer(name string)
	MovePlayer(name string, c world.MoveCommand) error
}

// Lobby is the first place for connected clients. It turns joined clients
// into spell sessions and passes their commands to the scheduler loop.
type Lobby struct {
	// Registered clients.
	clients map[uint64]*Client

	// Joined clients by nickname.
	players map[string]*Client

	mu sync.RWMutex

	// Register requests from the clients.
	register chan ClientSender

	// Unregister requests from clients.
	unregister chan ClientSender

	// Commands from clients
	clientCommands chan *ClientCommand

	done chan struct{}

	world          World
	scheduler      *scheduler.Scheduler
	memory         *memory.Store
	namespaces     *memory.Registry
	maxScriptBytes int
}

func NewLobby(w World, sched *scheduler.Scheduler, store *memory.Store, namespaces *memory.Registry, maxScriptBytes int) *Lobby {
	return &Lobby{
		clients:        make(map[uint64]*Client),
		players:        make(map[string]*Client),
		register:       make(chan ClientSender),
		unregister:     make(chan ClientSender),
		clientCommands: make(chan *ClientCommand),
		done:           make(chan struct{}),
		world:          w,
		scheduler:      sched,
		memory:         store,
		namespaces:     namespaces,
		maxScriptBytes: maxScriptBytes,
	}
}

// Run serves register, unregister and command requests until ctx is done.
func (l *Lobby) Run(ctx context.Context) {
	log.Info("[Lobby] started")
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			log.Info("[Lobby] stopped")
			return
		case tc := <-l.register:
			l.onRegister(tc)
		case tc := <-l.unregister:
			l.onUnregister(tc)
		case clientCommand := <-l.clientCommands:
			l.onClientCommand(clientCommand)
		}
	}
}

func (l *Lobby) RegisterTransportClient(tc ClientSender) {
	select {
	case l.register <- tc:
		log.Debug("[Lobby] registered transport client")
	case <-l.done:
	}
}

func (l *Lobby) UnregisterTransportClient(tc ClientSender) {
	select {
	case l.unregister <- tc:
		log.WithField("client", tc.ID()).Debug("[Lobby] unregistered transport client")
	case <-l.done:
	}
}

func (l *Lobby) HandleClientCommand(tc ClientSender, clientCommand *ClientCommand) {
	l.mu.RLock()
	client, ok := l.clients[tc.ID()]
	l.mu.RUnlock()
	if !ok {
		return
	}
	clientCommand.client = client
	select {
	case l.clientCommands <- clientCommand:
	case <-l.done:
	}
}

// BroadcastEvent sends event to every connected client.
func (l *Lobby) BroadcastEvent(event interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, client := range l.clients {
		client.SendEvent(event)
	}
}

// SendToPlayer sends event to the client playing as player. It reports
// whether such a client is connected.
func (l *Lobby) SendToPlayer(player string, event interface{}) bool {
	l.mu.RLock()
	client, ok := l.players[player]
	l.mu.RUnlock()
	if !ok {
		return false
	}
	client.SendEvent(event)
	return true
}

// Players lists joined clients ordered by id.
func (l *Lobby) Players() []*ClientInList {
	l.mu.RLock()
	defer l.mu.RUnlock()

	list := make([]*ClientInList, 0, len(l.players))
	for _, client := range l.players {
		list = append(list, &ClientInList{
			Id:       client.ID(),
			Nickname: client.Nickname(),
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Id < list[j].Id })
	return list
}

func (l *Lobby) onRegister(tc ClientSender) {
	tc.SetID(atomic.AddUint64(&lastClientId, 1))

	client := &Client{
		lobby:           l,
		transportClient: tc,
	}
	l.mu.Lock()
	l.clients[client.ID()] = client
	l.mu.Unlock()
	log.WithField("client", client.ID()).Info("[Lobby] client connected")
}

func (l *Lobby) onUnregister(tc ClientSender) {
	l.mu.Lock()
	client, ok := l.clients[tc.ID()]
	if ok {
		delete(l.clients, client.ID())
	}
	l.mu.Unlock()

	if !ok {
		return
	}
	client.CloseConnection()
	l.onClientLeft(client)
}

// onClientLeft tears the session down on the scheduler loop. Timers stop
// before the player leaves the world, and the nickname stays taken until
// both are gone.
func (l *Lobby) onClientLeft(client *Client) {
	if client.joined() {
		_, err := l.scheduler.Post(func() error {
			l.teardown(client)
			return nil
		})
		if err != nil {
			log.WithError(err).Error("[Lobby] cannot schedule session teardown")
		}
	}

	l.BroadcastEvent(&ClientLeftEvent{Id: client.ID()})
	log.WithFields(log.Fields{
		"client":   client.ID(),
		"nickname": client.Nickname(),
	}).Info("[Lobby] client left")
}

func (l *Lobby) teardown(client *Client) {
	nickname := client.Nickname()
	client.runtime.Close()
	l.world.RemovePlayer(nickname)
	l.memory.Discard(client.SessionID())

	l.mu.Lock()
	if l.players[nickname] == client {
		delete(l.players, nickname)
	}
	l.mu.Unlock()
}

func (l *Lobby) onClientCommand(cc *ClientCommand) {
	c := cc.client
	if cc.Type != ClientCommandTypeJoin && !c.joined() {
		sendError(c, errorNotJoined)
		return
	}

	switch cc.Type {
	case ClientCommandTypeJoin:
		var nickname string
		if err := json.Unmarshal(cc.Data, &nickname); err != nil {
			sendError(c, errorBadCommandData)
			return
		}
		l.joinCommand(c, nickname)
	case ClientCommandTypeMove:
		var move world.MoveCommand
		if err := json.Unmarshal(cc.Data, &move); err != nil {
			sendError(c, errorBadCommandData)
			return
		}
		if err := l.world.MovePlayer(c.Nickname(), move); err != nil {
			sendError(c, err.Error())
		}
	case ClientCommandTypeSpell:
		var data SpellCommandData
		if err := json.Unmarshal(cc.Data, &data); err != nil {
			sendError(c, errorBadCommandData)
			return
		}
		l.spellCommand(c, data)
	case ClientCommandTypeCast:
		var data CastCommandData
		if err := json.Unmarshal(cc.Data, &data); err != nil {
			sendError(c, errorBadCommandData)
			return
		}
		l.castCommand(c, data)
	case ClientCommandTypeClear:
		l.clearCommand(c)
	default:
		sendError(c, errorUnknownCommand)
	}
}

func (l *Lobby) joinCommand(c *Client, nickname string) {
	nickname = strings.TrimSpace(nickname)
	if c.joined() {
		sendError(c, errorAlreadyJoined)
		return
	}
	if nickname == "" {
		sendError(c, errorBadCommandData)
		return
	}

	l.mu.Lock()
	if _, taken := l.players[nickname]; taken {
		l.mu.Unlock()
		sendError(c, errorNicknameIsTaken)
		return
	}
	l.players[nickname] = c
	l.mu.Unlock()

	if err := l.world.AddPlayer(nickname); err != nil {
		l.mu.Lock()
		delete(l.players, nickname)
		l.mu.Unlock()
		sendError(c, err.Error())
		return
	}

	session := magik.Session{ID: uuid.NewString(), Player: nickname}
	m := magik.New(session, l.world, l.scheduler, l.memory.Slot(session.ID), l.namespaces)
	c.sessionID = session.ID
	c.nickname = nickname
	c.runtime = spell.NewRuntime(m, l.maxScriptBytes)

	l.BroadcastEvent(&ClientBroadCastJoinedEvent{
		Id:       c.ID(),
		Nickname: nickname,
	})
	c.SendEvent(&ClientJoinedEvent{
		YourId:       c.ID(),
		YourNickname: nickname,
		SessionId:    session.ID,
		Plugin:       l.world.Plugin(),
		Clients:      l.Players(),
	})
	log.WithFields(log.Fields{
		"client":   c.ID(),
		"nickname": nickname,
		"session":  session.ID,
	}).Info("[Lobby] client joined")
}

// spellCommand loads the script on the scheduler loop. Failures reach the
// player the way failing timers do.
func (l *Lobby) spellCommand(c *Client, data SpellCommandData) {
	runtime := c.runtime
	l.runForSession(c, func() error {
		if err := runtime.Load(data.Name, data.Source); err != nil {
			return err
		}
		c.SendEvent(&SpellLoadedEvent{Name: data.Name})
		return nil
	})
}

func (l *Lobby) castCommand(c *Client, data CastCommandData) {
	runtime := c.runtime
	l.runForSession(c, func() error {
		results, err := runtime.Cast(data.Spell, data.Args...)
		if err != nil {
			return err
		}
		c.SendEvent(&CastResultEvent{Spell: data.Spell, Results: results})
		return nil
	})
}

func (l *Lobby) clearCommand(c *Client) {
	timers := c.runtime.Magik().Timers()
	_, err := l.scheduler.Post(func() error {
		c.SendEvent(&TimersClearedEvent{Cancelled: timers.Clear()})
		return nil
	})
	if err != nil {
		sendError(c, err.Error())
	}
}

func (l *Lobby) runForSession(c *Client, fn scheduler.Callback) {
	if _, err := c.runtime.Magik().Timers().SetTimeout(fn, 0); err != nil {
		sendError(c, fmt.Sprintf("cannot run: %s", err))
	}
}

func sendError(c *Client, message string) {
	c.SendEvent(&ClientCommandError{Message: message})
}

package lobby

import (
	"magikcraft/internal/spell"
)

// ClientSender is the transport side of a connected client.
type ClientSender interface {
	SendEvent(event interface{})
	ID() uint64
	SetID(id uint64)
	Close()
}

// Client is a connected player. The nickname and runtime are set once the
// client joins.
type Client struct {
	lobby           *Lobby
	transportClient ClientSender

	sessionID string
	nickname  string
	runtime   *spell.Runtime
}

func (c *Client) ID() uint64 {
	return c.transportClient.ID()
}

func (c *Client) Nickname() string {
	return c.nickname
}

func (c *Client) SessionID() string {
	return c.sessionID
}

func (c *Client) joined() bool {
	return c.runtime != nil
}

func (c *Client) SendEvent(event interface{}) {
	c.transportClient.SendEvent(event)
}

func (c *Client) CloseConnection() {
	c.transportClient.Close()
}

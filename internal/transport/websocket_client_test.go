package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"magikcraft/internal/lobby"
)

type echoHub struct {
	registered   chan lobby.ClientSender
	unregistered chan lobby.ClientSender
}

func newEchoHub() *echoHub {
	return &echoHub{
		registered:   make(chan lobby.ClientSender, 1),
		unregistered: make(chan lobby.ClientSender, 1),
	}
}

func (h *echoHub) RegisterTransportClient(tc lobby.ClientSender) {
	tc.SetID(7)
	h.registered <- tc
}

func (h *echoHub) UnregisterTransportClient(tc lobby.ClientSender) {
	h.unregistered <- tc
}

func (h *echoHub) HandleClientCommand(tc lobby.ClientSender, clientCommand *lobby.ClientCommand) {
	tc.SendEvent(&lobby.SpellLoadedEvent{Name: clientCommand.Type + ":" + string(clientCommand.Data)})
}

func TestEventToJSON(t *testing.T) {
	raw, err := eventToJSON(&lobby.ClientLeftEvent{Id: 3})
	if err != nil {
		t.Fatalf("eventToJSON: %v", err)
	}
	if string(raw) != `{"name":"ClientLeftEvent","data":{"id":3}}` {
		t.Fatalf("unexpected json %s", raw)
	}

	raw, err = eventToJSON(lobby.TimersClearedEvent{Cancelled: 2})
	if err != nil {
		t.Fatalf("eventToJSON: %v", err)
	}
	if string(raw) != `{"name":"TimersClearedEvent","data":{"cancelled":2}}` {
		t.Fatalf("unexpected json %s", raw)
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	hub := newEchoHub()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWebSocketRequest(hub, 1024, w, r)
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case tc := <-hub.registered:
		if tc.ID() != 7 {
			t.Fatalf("expected id 7, got %d", tc.ID())
		}
	case <-time.After(time.Second):
		t.Fatal("client was not registered")
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","data":"merlin"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var envelope struct {
		Name string `json:"name"`
		Data struct {
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if envelope.Name != "SpellLoadedEvent" || envelope.Data.Name != `join:"merlin"` {
		t.Fatalf("unexpected envelope %+v", envelope)
	}

	_ = conn.Close()
	select {
	case <-hub.unregistered:
	case <-time.After(time.Second):
		t.Fatal("client was not unregistered")
	}
}

func TestOversizedMessageDisconnects(t *testing.T) {
	hub := newEchoHub()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWebSocketRequest(hub, 16, w, r)
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	<-hub.registered

	_ = conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 64)))
	select {
	case <-hub.unregistered:
	case <-time.After(time.Second):
		t.Fatal("expected oversized message to end the connection")
	}
}

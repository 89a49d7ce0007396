package websocket

import (
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	fluid "github.com/esimov/pic-fluid/fluid-solver"
	"github.com/esimov/pic-fluid/runner"
)

// MaxCells bounds the grid a client may request.
const MaxCells = fluid.MaxCells

// Controller is the control surface driven by client commands.
type Controller interface {
	Start(rows, cols int) error
	Stop()
}

// A server application calls the Upgrade method from an HTTP request handler to initiate a connection
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub broadcasts frames to every connected client and routes their commands
// to the controller. It implements runner.Sink.
type Hub struct {
	ctrl       Controller
	sendBuffer int
	logger     *log.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}

	// cmdMu serializes commands with Close, so none reaches ctrl afterwards.
	cmdMu  sync.Mutex
	closed bool
}

// NewHub creates a hub. sendBuffer bounds the frames queued per client.
func NewHub(ctrl Controller, sendBuffer int, logger *log.Logger) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		ctrl:       ctrl,
		sendBuffer: sendBuffer,
		logger:     logger,
		clients:    make(map[*Client]struct{}),
	}
}

// Emit broadcasts the frame as an update_grid event. The frame is encoded
// once per wire format. A client whose queue is full is disconnected: it
// would otherwise see a gap in the step sequence.
func (h *Hub) Emit(f runner.Frame) error {
	ev := Event{Event: EventUpdateGrid, Payload: &FluidGrid{Data: f.Grid}}

	var encoded [2][]byte
	var slow []*Client

	h.mu.RLock()
	for c := range h.clients {
		if encoded[c.format] == nil {
			data, err := Encode(ev, c.format)
			if err != nil {
				h.mu.RUnlock()
				return fmt.Errorf("encoding %s frame: %w", c.format, err)
			}
			encoded[c.format] = data
		}
		if !c.enqueue(encoded[c.format]) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Printf("client %s too slow at step %d, disconnecting", c.id, f.Step)
		h.unregister(c)
	}
	return nil
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and stops routing commands to the
// controller. It waits for a command already in flight.
func (h *Hub) Close() {
	h.cmdMu.Lock()
	h.closed = true
	h.cmdMu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeWS upgrades the request and attaches a new client to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Upgrade the http connection to a WebSocket connection
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if _, ok := err.(websocket.HandshakeError); !ok {
			h.logger.Println(err)
		}
		return
	}

	c := newClient(h, conn, format)
	h.register(c)
	h.logger.Printf("client %s connected from %s (%s)", c.id, r.RemoteAddr, format)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// unregister removes c and closes its queue. Safe to call more than once.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// reply queues an event for a single client.
func (h *Hub) reply(c *Client, ev Event) {
	data, err := Encode(ev, c.format)
	if err != nil {
		h.logger.Printf("client %s: encoding reply: %v", c.id, err)
		return
	}

	h.mu.RLock()
	_, ok := h.clients[c]
	queued := ok && c.enqueue(data)
	h.mu.RUnlock()

	if ok && !queued {
		h.unregister(c)
	}
}

// handle executes a client command.
func (h *Hub) handle(c *Client, cmd Command) {
	h.cmdMu.Lock()
	defer h.cmdMu.Unlock()
	if h.closed {
		return
	}

	switch cmd.Cmd {
	case CmdStart:
		if cmd.Rows > 0 && cmd.Cols > 0 && cmd.Rows > MaxCells/cmd.Cols {
			h.reply(c, Event{Event: EventError, Message: fmt.Sprintf("grid %dx%d exceeds %d cells", cmd.Rows, cmd.Cols, MaxCells)})
			return
		}
		if err := h.ctrl.Start(cmd.Rows, cmd.Cols); err != nil {
			h.reply(c, Event{Event: EventError, Message: err.Error()})
		}
	case CmdStop:
		h.ctrl.Stop()
	default:
		h.reply(c, Event{Event: EventError, Message: fmt.Sprintf("unknown command %q", cmd.Cmd)})
	}
}

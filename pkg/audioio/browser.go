// Package audioio implements ports.AudioIOPort as a browser-side relay:
// mic capture and speaker playback both happen in the browser (the Web
// Audio API), not in this process, so the port is really just a websocket
// carrying base64 PCM frames in both directions. Grounded on
// pkg/channels/web/web_channel.go's upgrade/SafeConn shape, the same
// pattern pkg/speechws reuses for its own mock speech transport.
package audioio

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"reduck/pkg/ports"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// frame is the text-frame wire shape between this core and the browser.
type frame struct {
	Type string `json:"type"` // "mic" | "play" | "flush" | "close"
	PCM  string `json:"pcm,omitempty"` // base64
}

// safeConn serializes concurrent writers onto one *websocket.Conn.
type safeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *safeConn) WriteMessage(messageType int, data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(messageType, data)
}

// Bridge implements ports.AudioIOPort over one browser websocket
// connection. It is both an http.Handler (for the upgrade) and the
// AudioIOPort the Voice Relay drives once a browser has connected.
type Bridge struct {
	mu   sync.Mutex
	conn *safeConn

	mic         chan []byte
	ready       chan struct{}
	readyClosed bool
	closed      bool
}

// New constructs a Bridge with no browser connected yet. Register
// ServeHTTP on the route the browser's mic/speaker page dials (e.g.
// "/voice/audio"); MicChunks blocks until that connection arrives.
func New() *Bridge {
	return &Bridge{
		mic:   make(chan []byte, 64),
		ready: make(chan struct{}),
	}
}

// ServeHTTP upgrades the request to a websocket and adopts it as this
// Bridge's browser connection, replacing any prior one.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	b.mu.Lock()
	if b.conn != nil {
		_ = b.conn.Close()
	}
	b.conn = &safeConn{Conn: conn}
	needsReadyClose := !b.readyClosed
	b.readyClosed = true
	b.mu.Unlock()

	if needsReadyClose {
		close(b.ready)
	}

	go b.readLoop()
}

func (b *Bridge) readLoop() {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return
	}
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue // control frames from the browser are not expected on this direction
		}
		select {
		case b.mic <- data:
		default: // drop under backpressure; a blocked mic sender has no recovery short of dropping
		}
	}
}

// Ready closes once the first browser connection has been adopted, for
// callers that want to delay starting a voice session until the browser's
// mic/speaker page is actually attached (main.go does not wait on it).
func (b *Bridge) Ready() <-chan struct{} { return b.ready }

// MicChunks returns the channel mic audio arrives on.
func (b *Bridge) MicChunks() <-chan []byte { return b.mic }

// PlayChunk sends one base64 PCM 24 kHz chunk to the browser for gapless
// scheduling.
func (b *Bridge) PlayChunk(base64PCM []byte) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("audioio: no browser connected")
	}
	msg, err := json.Marshal(frame{Type: "play", PCM: string(base64PCM)})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, msg)
}

// Flush tells the browser to stop in-flight playback without tearing the
// connection down.
func (b *Bridge) Flush() error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	msg, _ := json.Marshal(frame{Type: "flush"})
	return conn.WriteMessage(websocket.TextMessage, msg)
}

// Close terminates the browser connection.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.mic)
	if b.conn == nil {
		return nil
	}
	msg, _ := json.Marshal(frame{Type: "close"})
	_ = b.conn.WriteMessage(websocket.TextMessage, msg)
	return b.conn.Close()
}

var _ ports.AudioIOPort = (*Bridge)(nil)

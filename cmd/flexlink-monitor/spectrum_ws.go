package main

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	flexlink "github.com/cwsl/flexlink"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8192,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// spectrumFrameMessage is what each websocket client receives per frame.
type spectrumFrameMessage struct {
	FrameIndex uint32   `json:"frameIndex"`
	TotalBins  int      `json:"totalBins"`
	Bins       []uint16 `json:"bins"`
}

// spectrumHub fans completed panadapter frames out to websocket clients.
// Slow clients are dropped rather than allowed to stall the engine's
// datagram reader.
type spectrumHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan spectrumFrameMessage
}

func newSpectrumHub() *spectrumHub {
	return &spectrumHub{clients: make(map[*websocket.Conn]chan spectrumFrameMessage)}
}

// broadcastFrame runs on the engine's datagram reader; it must not block,
// so each client gets a small buffered channel and loses frames when full.
func (h *spectrumHub) broadcastFrame(frame *flexlink.SpectrumFrame) {
	msg := spectrumFrameMessage{
		FrameIndex: frame.FrameIndex,
		TotalBins:  frame.TotalBins,
		Bins:       append([]uint16(nil), frame.Bins...), // frame buffer is reused
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default:
			// client not keeping up, skip this frame for it
		}
	}
}

func (h *spectrumHub) serve(listen string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/spectrum", h.handleSpectrum)
	log.Printf("Spectrum websocket on ws://%s/spectrum", listen)
	if err := http.ListenAndServe(listen, mux); err != nil {
		log.Printf("Warning: spectrum server failed: %v", err)
	}
}

func (h *spectrumHub) handleSpectrum(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Warning: websocket upgrade failed: %v", err)
		return
	}

	ch := make(chan spectrumFrameMessage, 8)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	log.Printf("Spectrum client connected from %s", conn.RemoteAddr())

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
		log.Printf("Spectrum client disconnected from %s", conn.RemoteAddr())
	}()

	// drain client messages so pings and closes are processed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for msg := range ch {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

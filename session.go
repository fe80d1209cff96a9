package flexlink

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DebugMode enables verbose engine logging.
var DebugMode bool

// SessionOption configures a Session at construction.
type SessionOption func(*Session)

// WithMetrics attaches Prometheus instrumentation to the session.
func WithMetrics(m *Metrics) SessionOption { return func(s *Session) { s.metrics = m } }

// WithEvents subscribes the application to entity lifecycle notifications.
func WithEvents(ev EntityEvents) SessionOption { return func(s *Session) { s.events = ev } }

// WithTrace observes every line crossing the control connection.
func WithTrace(fn TraceFunc) SessionOption { return func(s *Session) { s.trace = fn } }

// WithClientProgram sets the program name reported to the radio.
func WithClientProgram(name string) SessionOption { return func(s *Session) { s.program = name } }

// WithStation sets the station name reported to the radio.
func WithStation(name string) SessionOption { return func(s *Session) { s.station = name } }

// Session is one live connection to a radio: the command channel and
// entity registry on the control plane, the packet router on the data
// plane, and the reader goroutines feeding both. Transports arrive
// already established - discovery and WAN bootstrap live outside the
// engine.
type Session struct {
	cmd     *CommandChannel
	reg     *Registry
	metrics *Metrics
	events  EntityEvents
	trace   TraceFunc

	clientID string
	program  string
	station  string

	conn net.Conn
	udp  net.PacketConn

	mu      sync.Mutex
	handle  uint32
	version string
	closed  bool
	done    chan struct{}

	// Disconnected, if set, is called once when the session ends, with
	// the transport error that ended it (nil for a local Close).
	Disconnected func(err error)
}

// NewSession creates a disconnected session.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		clientID: uuid.NewString(),
		program:  "flexlink",
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cmd = NewCommandChannel(nil, s.trace, s.metrics)
	s.reg = NewRegistry(s.events, s.metrics)
	return s
}

// Registry exposes the mirrored object graph.
func (s *Session) Registry() *Registry { return s.reg }

// Handle returns the client handle the radio assigned on connect.
func (s *Session) Handle() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Version returns the protocol version string the radio announced.
func (s *Session) Version() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Done is closed when the session has torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Connect attaches the established transports and starts the reader
// goroutines. udp may be nil for a control-only session.
func (s *Session) Connect(conn net.Conn, udp net.PacketConn) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.conn != nil {
		s.mu.Unlock()
		return fmt.Errorf("session already connected")
	}
	s.conn = conn
	s.udp = udp
	s.mu.Unlock()

	s.cmd.attach(conn)

	go s.controlLoop()
	if udp != nil {
		go s.datagramLoop()
	}

	s.register()
	log.Printf("Session connected to %s (client %s)", conn.RemoteAddr(), s.clientID)
	return nil
}

// register announces the client to the radio and binds the data port.
func (s *Session) register() {
	s.cmd.Send("client gui " + s.clientID)
	s.cmd.Send("client program " + s.program)
	if s.station != "" {
		s.cmd.Send("client station " + s.station)
	}
	if s.udp != nil {
		if addr, ok := s.udp.LocalAddr().(*net.UDPAddr); ok {
			s.cmd.Send(fmt.Sprintf("client udpport %d", addr.Port))
		}
	}
}

// SendCommand sends a fire-and-forget command to the radio.
func (s *Session) SendCommand(cmd string) (uint32, error) {
	return s.cmd.Send(cmd)
}

// SendCommandReply sends a command and registers a handler for its reply.
func (s *Session) SendCommandReply(cmd string, handler ReplyHandler) (uint32, error) {
	return s.cmd.SendReply(cmd, handler)
}

// Subscribe asks the radio to broadcast status for the usual object
// domains.
func (s *Session) Subscribe() {
	for _, sub := range []string{
		"sub tx all", "sub atu all", "sub amplifier all",
		"sub meter all", "sub pan all", "sub slice all",
		"sub gps all", "sub audio_stream all", "sub cwx all",
		"sub xvtr all", "sub memories all", "sub daxiq all",
		"sub dax all", "sub usb_cable all",
	} {
		s.cmd.Send(sub)
	}
}

// controlLoop reads the control connection line by line until it fails.
func (s *Session) controlLoop() {
	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		s.handleControlLine(strings.TrimRight(scanner.Text(), "\r"))
	}

	err := scanner.Err()
	s.mu.Lock()
	wasClosed := s.closed
	s.mu.Unlock()
	if !wasClosed {
		if err != nil {
			log.Printf("Control connection error: %v", err)
		}
		s.teardown(err)
	}
}

// handleControlLine dispatches one control-plane line by its prefix.
func (s *Session) handleControlLine(line string) {
	if line == "" {
		return
	}

	switch line[0] {
	case 'R':
		// the command channel traces and correlates replies itself
		s.cmd.HandleReply(line)
		return
	case 'S':
		if s.trace != nil {
			s.trace("<-", line)
		}
		if s.metrics != nil {
			s.metrics.statusLines.Inc()
		}
		s.handleStatus(line)
	case 'H':
		if s.trace != nil {
			s.trace("<-", line)
		}
		if handle, err := parseID(line[1:]); err == nil {
			s.mu.Lock()
			s.handle = handle
			s.mu.Unlock()
		} else {
			log.Printf("Warning: bad handle line %q", line)
		}
	case 'V':
		if s.trace != nil {
			s.trace("<-", line)
		}
		s.mu.Lock()
		s.version = line[1:]
		s.mu.Unlock()
	case 'M':
		log.Printf("Radio message: %s", line[1:])
	default:
		log.Printf("Warning: unrecognized control line %q, ignoring", line)
	}
}

// ApplyStatusLine feeds one "S<handle>|..." status broadcast through the
// lifecycle engine. The control reader calls it for every S line; it is
// exported so a collaborator holding its own transport can drive the
// mirror directly.
func (s *Session) ApplyStatusLine(line string) {
	s.handleStatus(line)
}

// handleStatus parses an "S<handle>|<domain> ..." broadcast and drives the
// lifecycle engine. Unknown domains are tolerated: firmware updates add
// new ones and old clients must keep working.
func (s *Session) handleStatus(line string) {
	body := line[1:]
	if i := strings.IndexByte(body, '|'); i >= 0 {
		body = body[i+1:]
	}
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "slice":
		if len(fields) < 2 {
			log.Printf("Warning: short slice status %q, dropping", body)
			return
		}
		idx, err := parseInt(fields[1])
		if err != nil || idx < 0 {
			log.Printf("Warning: bad slice index in %q, dropping", body)
			return
		}
		id := uint32(idx)
		tokens := tokenize(strings.Join(fields[2:], " "))
		s.reg.applyStatus(KindSlice, id, tokens, statusInUse(tokens), func([]Token) Entity {
			return newSlice(s, id)
		})

	case "display":
		if len(fields) < 3 {
			log.Printf("Warning: short display status %q, dropping", body)
			return
		}
		id, err := parseID(fields[2])
		if err != nil {
			log.Printf("Warning: bad display id in %q, dropping", body)
			return
		}
		tokens := tokenize(strings.Join(fields[3:], " "))
		switch fields[1] {
		case "pan":
			s.reg.applyStatus(KindPanadapter, id, tokens, statusInUse(tokens), func([]Token) Entity {
				return newPanadapter(s, id)
			})
		case "waterfall", "panafall":
			s.reg.applyStatus(KindWaterfall, id, tokens, statusInUse(tokens), func([]Token) Entity {
				return newWaterfall(s, id)
			})
		default:
			if DebugMode {
				log.Printf("DEBUG: unhandled display status %q", body)
			}
		}

	case "meter":
		// "meter <num> removed" is the only meter removal the radio sends
		if len(fields) == 3 && fields[2] == "removed" {
			if idx, err := parseInt(fields[1]); err == nil && idx >= 0 {
				s.reg.Remove(KindMeter, uint32(idx))
			}
			return
		}
		rest := strings.TrimSpace(strings.TrimPrefix(body, "meter"))
		for id, tokens := range parseMeterStatus(rest) {
			mid := id
			s.reg.applyStatus(KindMeter, mid, tokens, true, func([]Token) Entity {
				return newMeter(s, mid)
			})
		}

	case "audio_stream", "opus_stream":
		s.applyStreamStatus(KindAudioStream, fields, body)

	case "daxiq":
		s.applyStreamStatus(KindIQStream, fields, body)

	case "usb_cable":
		if len(fields) < 2 {
			log.Printf("Warning: short usb_cable status %q, dropping", body)
			return
		}
		id, err := parseID(fields[1])
		if err != nil {
			log.Printf("Warning: bad usb_cable id in %q, dropping", body)
			return
		}
		tokens := tokenize(strings.Join(fields[2:], " "))
		s.reg.applyStatus(KindUSBCable, id, tokens, statusInUse(tokens), func(tokens []Token) Entity {
			return usbCableFromTokens(s, id, tokens)
		})

	default:
		if DebugMode {
			log.Printf("DEBUG: unhandled status domain %q", fields[0])
		}
	}
}

// applyStreamStatus handles the stream-bearing kinds whose status header
// is "<domain> <hex stream id>".
func (s *Session) applyStreamStatus(kind EntityKind, fields []string, body string) {
	if len(fields) < 2 {
		log.Printf("Warning: short %s status %q, dropping", kind, body)
		return
	}
	id, err := parseID(fields[1])
	if err != nil {
		log.Printf("Warning: bad %s id in %q, dropping", kind, body)
		return
	}
	tokens := tokenize(strings.Join(fields[2:], " "))
	s.reg.applyStatus(kind, id, tokens, statusInUse(tokens), func([]Token) Entity {
		if kind == KindIQStream {
			return newIQStream(s, id)
		}
		return newAudioStream(s, id)
	})
}

// statusInUse decides whether a status line announces or retracts its
// entity: an explicit in_use=0 or a bare "removed" token retracts.
func statusInUse(tokens []Token) bool {
	for _, t := range tokens {
		if t.Key == "in_use" && t.HasValue {
			if inUse, err := parseBool(t.Value); err == nil && !inUse {
				return false
			}
		}
		if t.Key == "removed" && !t.HasValue {
			return false
		}
	}
	return true
}

// datagramLoop reads the data socket until it closes.
func (s *Session) datagramLoop() {
	buf := make([]byte, 65536)
	for {
		n, _, err := s.udp.ReadFrom(buf)
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				log.Printf("Data socket error: %v", err)
			}
			return
		}
		s.SubmitDatagram(buf[:n])
	}
}

// SubmitDatagram decodes and routes one raw datagram. Foreign-OUI traffic
// is dropped without comment; malformed packets are logged and dropped;
// either way the engine stays live.
func (s *Session) SubmitDatagram(buf []byte) {
	if s.metrics != nil {
		s.metrics.datagramsReceived.Inc()
	}

	pkt, err := DecodeVita(buf)
	if err != nil {
		if s.metrics != nil {
			reason := "malformed"
			if err == errForeignOUI {
				reason = "foreign_oui"
			}
			s.metrics.datagramsDiscarded.WithLabelValues(reason).Inc()
		}
		if err != errForeignOUI {
			log.Printf("Warning: %v, dropping datagram", err)
		}
		return
	}
	s.reg.Route(pkt)
}

// Close tears the session down: both transports are closed, every pending
// command is abandoned without its callback, and the registry and dispatch
// table are cleared atomically with respect to incoming data.
func (s *Session) Close() {
	s.teardown(nil)
}

func (s *Session) teardown(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn, udp := s.conn, s.udp
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if udp != nil {
		udp.Close()
	}
	s.cmd.Abandon()
	s.reg.Teardown()
	close(s.done)

	if s.Disconnected != nil {
		s.Disconnected(err)
	}
	log.Printf("Session closed")
}

// RequestSlice asks the radio to create a slice on the given panadapter.
// The new slice appears in the registry via the resulting status
// broadcast, not via the reply.
func (s *Session) RequestSlice(pan uint32, freqHz uint64, mode string, handler ReplyHandler) error {
	cmd := fmt.Sprintf("slice create pan=%s freq=%s mode=%s", formatID(pan), hzToMHz(freqHz), mode)
	_, err := s.cmd.SendReply(cmd, handler)
	return err
}

// RequestPanadapter asks the radio to create a panadapter; the reply text
// carries the new display's stream id.
func (s *Session) RequestPanadapter(width, height int, handler ReplyHandler) error {
	cmd := "display panafall create x=" + strconv.Itoa(width) + " y=" + strconv.Itoa(height)
	_, err := s.cmd.SendReply(cmd, handler)
	return err
}

package flexlink

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
)

// ErrNotConnected indicates a command was sent with no transport attached.
var ErrNotConnected = errors.New("not connected")

// ReplyHandler receives the correlated reply for a command: the radio's
// error code (0 means success) and the response text. Invoked at most once.
type ReplyHandler func(code uint32, message string)

// TraceFunc observes every line crossing the control connection. dir is
// "->" for sent lines and "<-" for received ones.
type TraceFunc func(dir, line string)

type pendingCommand struct {
	sent    string
	handler ReplyHandler
}

// CommandChannel owns the outbound half of the control connection: it
// formats commands as "C<seq>|<text>", numbers them monotonically per
// connection, and correlates "R<seq>|<code>|<text>" replies back to the
// caller that asked for one.
type CommandChannel struct {
	mu      sync.Mutex
	w       io.Writer
	seq     uint32
	pending map[uint32]pendingCommand
	trace   TraceFunc
	metrics *Metrics
}

// NewCommandChannel creates a command channel writing to w. trace and
// metrics may be nil.
func NewCommandChannel(w io.Writer, trace TraceFunc, metrics *Metrics) *CommandChannel {
	return &CommandChannel{
		w:       w,
		pending: make(map[uint32]pendingCommand),
		trace:   trace,
		metrics: metrics,
	}
}

// attach binds the channel to a live transport writer. The sequence
// counter restarts at zero: numbering is per connection.
func (c *CommandChannel) attach(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w = w
	c.seq = 0
}

// Send transmits a fire-and-forget command and returns its sequence number.
func (c *CommandChannel) Send(cmd string) (uint32, error) {
	return c.send(cmd, nil, false)
}

// SendReply transmits a command and registers handler for its reply. The
// handler is dropped without being called if the connection goes away first.
func (c *CommandChannel) SendReply(cmd string, handler ReplyHandler) (uint32, error) {
	return c.send(cmd, handler, false)
}

// SendDiag transmits the diagnostic-suffixed variant ("CD<seq>|...") which
// asks the radio to echo verbose debug output for the command.
func (c *CommandChannel) SendDiag(cmd string, handler ReplyHandler) (uint32, error) {
	return c.send(cmd, handler, true)
}

func (c *CommandChannel) send(cmd string, handler ReplyHandler, diag bool) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.w == nil {
		return 0, ErrNotConnected
	}

	seq := c.seq
	c.seq++

	prefix := "C"
	if diag {
		prefix = "CD"
	}
	line := fmt.Sprintf("%s%d|%s\n", prefix, seq, cmd)

	if _, err := io.WriteString(c.w, line); err != nil {
		return seq, fmt.Errorf("failed to write command: %w", err)
	}

	if handler != nil {
		c.pending[seq] = pendingCommand{sent: cmd, handler: handler}
	}
	if c.trace != nil {
		c.trace("->", strings.TrimSuffix(line, "\n"))
	}
	if c.metrics != nil {
		c.metrics.commandsSent.Inc()
	}
	return seq, nil
}

// HandleReply consumes one "R<seq>|<code>|<text>" line from the control
// connection. Replies with no pending entry are ignored: the command was
// either fire-and-forget or abandoned at disconnect.
func (c *CommandChannel) HandleReply(line string) {
	if c.trace != nil {
		c.trace("<-", line)
	}

	parts := strings.SplitN(strings.TrimPrefix(line, "R"), "|", 3)
	if len(parts) < 2 {
		log.Printf("Warning: malformed reply line %q, ignoring", line)
		return
	}

	seq, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		log.Printf("Warning: bad sequence number in reply %q, ignoring", line)
		return
	}
	code, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		log.Printf("Warning: bad error code in reply %q, ignoring", line)
		return
	}
	message := ""
	if len(parts) == 3 {
		message = parts[2]
	}

	c.mu.Lock()
	pc, ok := c.pending[uint32(seq)]
	if ok {
		delete(c.pending, uint32(seq))
	}
	c.mu.Unlock()

	if !ok {
		if c.metrics != nil {
			c.metrics.repliesOrphaned.Inc()
		}
		return
	}
	if c.metrics != nil {
		c.metrics.repliesCorrelated.Inc()
	}
	pc.handler(uint32(code), message)
}

// Abandon discards every outstanding command without invoking its handler
// and detaches the writer. Called once at session teardown.
func (c *CommandChannel) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n := len(c.pending); n > 0 {
		log.Printf("Abandoning %d pending command(s) at disconnect", n)
	}
	c.pending = make(map[uint32]pendingCommand)
	c.w = nil
}

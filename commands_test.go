package flexlink

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer lets concurrent senders share one bytes.Buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSuffix(b.buf.String(), "\n"), "\n")
}

func TestCommandChannelWireFormat(t *testing.T) {
	buf := &syncBuffer{}
	c := NewCommandChannel(buf, nil, nil)

	seq, err := c.Send("info")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), seq)

	seq, err = c.SendDiag("slice list", nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), seq)

	lines := buf.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "C0|info", lines[0])
	assert.Equal(t, "CD1|slice list", lines[1])
}

func TestCommandChannelReplyCorrelation(t *testing.T) {
	buf := &syncBuffer{}
	c := NewCommandChannel(buf, nil, nil)

	var gotCode uint32
	var gotMessage string
	calls := 0
	seq, err := c.SendReply("slice set 0 mode=USB", func(code uint32, message string) {
		calls++
		gotCode = code
		gotMessage = message
	})
	require.NoError(t, err)

	c.HandleReply("R0|0|okay")
	assert.Equal(t, 1, calls)
	assert.Equal(t, uint32(0), gotCode)
	assert.Equal(t, "okay", gotMessage)
	assert.Equal(t, uint32(0), seq)

	// at most one invocation per command
	c.HandleReply("R0|0|okay")
	assert.Equal(t, 1, calls)
}

func TestCommandChannelErrorCode(t *testing.T) {
	c := NewCommandChannel(&syncBuffer{}, nil, nil)

	var gotCode uint32
	c.SendReply("bogus", func(code uint32, message string) { gotCode = code })
	c.HandleReply("R0|50000015|unknown command")
	assert.Equal(t, uint32(0x50000015), gotCode)
}

func TestCommandChannelOrphanReplyIgnored(t *testing.T) {
	c := NewCommandChannel(&syncBuffer{}, nil, nil)
	// no pending entry for 42: must not panic or error
	c.HandleReply("R42|0|whatever")
	c.HandleReply("Rgarbage")
	c.HandleReply("R1|nothex|x")
}

func TestCommandChannelConcurrentSequenceNumbers(t *testing.T) {
	buf := &syncBuffer{}
	c := NewCommandChannel(buf, nil, nil)

	const n = 100
	seqs := make(chan uint32, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := c.Send("ping")
			assert.NoError(t, err)
			seqs <- seq
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[uint32]bool)
	for seq := range seqs {
		assert.False(t, seen[seq], "sequence number %d issued twice", seq)
		seen[seq] = true
	}
	assert.Len(t, seen, n)
}

func TestCommandChannelAbandon(t *testing.T) {
	c := NewCommandChannel(&syncBuffer{}, nil, nil)

	called := false
	c.SendReply("info", func(uint32, string) { called = true })
	c.Abandon()

	// handler must never fire after disconnect
	c.HandleReply("R0|0|late")
	assert.False(t, called)

	// and new sends fail cleanly
	_, err := c.Send("info")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCommandChannelTrace(t *testing.T) {
	var traced []string
	c := NewCommandChannel(&syncBuffer{}, func(dir, line string) {
		traced = append(traced, dir+" "+line)
	}, nil)

	c.Send("info")
	c.HandleReply("R5|0|")
	require.Len(t, traced, 2)
	assert.Equal(t, "-> C0|info", traced[0])
	assert.Equal(t, "<- R5|0|", traced[1])
}

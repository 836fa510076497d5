package master

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// connState is the command dispatch state of a ClientConn.
type connState int32

const (
	// stateAwaitingHandshake is the initial state: version == 0, only a V
	// command is accepted.
	stateAwaitingHandshake connState = iota
	// stateActive is entered once the handshake completes.
	stateActive
	// stateTerminating means disconnect has been scheduled; no further
	// commands are processed.
	stateTerminating
)

// ClientConn holds per-connection state for one accepted TCP client.
//
// Exclusive ownership of a ClientConn belongs to its ownerWorker: only the
// goroutine running that connection's read loop ever reads or writes
// version, state, or session. Other workers (the ping sweeper, an evicting
// R collision, an X relay) interact with a ClientConn only through its
// thread-safe surface: writeLine (guarded by writeMu) and Close (safe to
// call from any goroutine; the owning read loop observes the resulting
// error and runs its own disconnect hook).
type ClientConn struct {
	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex

	peerIP   string
	peerPort int

	// version, state, and session are owner-goroutine-only.
	version int
	state   connState
	session *Session

	ownerWorker *Worker
	penalty     *PenaltyMeter

	lastPinged atomic.Int64 // unix millis, set on accept and on every K
}

func newClientConn(conn net.Conn, peerIP string, peerPort int, owner *Worker, penalty *PenaltyMeter) *ClientConn {
	c := &ClientConn{
		conn:        conn,
		reader:      bufio.NewReaderSize(conn, maxCommandLength),
		peerIP:      peerIP,
		peerPort:    peerPort,
		ownerWorker: owner,
		penalty:     penalty,
		state:       stateAwaitingHandshake,
	}
	c.touchPing()
	return c
}

// PeerIP returns the connection's source IP address.
func (c *ClientConn) PeerIP() string { return c.peerIP }

// PeerPort returns the connection's source port.
func (c *ClientConn) PeerPort() int { return c.peerPort }

// Version returns the negotiated protocol version, or 0 before handshake.
func (c *ClientConn) Version() int { return c.version }

// touchPing records the current time as the last-activity timestamp.
func (c *ClientConn) touchPing() {
	c.lastPinged.Store(time.Now().UnixMilli())
}

// idleSince returns how long it has been since the connection was accepted
// or last sent a K ping, whichever is later.
func (c *ClientConn) idleSince(now time.Time) time.Duration {
	last := time.UnixMilli(c.lastPinged.Load())
	return now.Sub(last)
}

// writeLine writes raw bytes to the socket, serialized against concurrent
// writers: the owning read loop writing its own replies, and a different
// worker relaying an invite (§4.4) to this connection.
func (c *ClientConn) writeLine(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err := c.conn.Write(b)
	return err
}

// Close closes the underlying socket. Safe to call from any goroutine.
func (c *ClientConn) Close() error {
	return c.conn.Close()
}

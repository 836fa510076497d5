package master

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/nfkplanet/planetd/internal/config"
	mastermetrics "github.com/nfkplanet/planetd/internal/metrics"
	appversion "github.com/nfkplanet/planetd/internal/version"
)

// serverVersion is the protocol version this server negotiates in V
// handshake replies and compares against to decide banner vs. session-list
// replies to G.
const serverVersion = appversion.ProtocolVersion

// workerRequest is a tagged cross-worker message: work another worker wants
// performed against a ClientConn it does not own. Both variants are
// implemented in terms of ClientConn's thread-safe surface (writeLine,
// Close), so delivery never mutates owner-only state directly.
type workerRequest interface {
	apply()
}

type disconnectRequest struct{ client *ClientConn }

func (r disconnectRequest) apply() { r.client.Close() }

type relayRequest struct {
	target *ClientConn
	line   []byte
}

func (r relayRequest) apply() { r.target.writeLine(r.line) }

// Worker owns a disjoint subset of connections and runs their command
// dispatch. Exactly one goroutine per connection is spawned under the
// worker's WaitGroup; a separate goroutine drains the worker's request
// channel to service cross-worker disconnect/relay asks without ever
// touching another worker's ClientConn fields directly.
type Worker struct {
	id        int
	registry  *Registry
	cfg       *config.Config
	metrics   *mastermetrics.Collector
	logger    *slog.Logger
	blacklist *config.Blacklist

	mu   sync.Mutex
	load int

	requests chan workerRequest
	wg       sync.WaitGroup
}

// newWorker constructs a Worker. It does not start any goroutines; call
// run to start the request-drain loop.
func newWorker(id int, registry *Registry, cfg *config.Config, metrics *mastermetrics.Collector, logger *slog.Logger, blacklist *config.Blacklist) *Worker {
	return &Worker{
		id:        id,
		registry:  registry,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.With(slog.Int("worker", id)),
		blacklist: blacklist,
		requests:  make(chan workerRequest, 256),
	}
}

// Load returns the number of connections currently owned by this worker.
func (w *Worker) Load() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.load
}

func (w *Worker) incLoad() {
	w.mu.Lock()
	w.load++
	load := w.load
	w.mu.Unlock()
	w.metrics.SetWorkerLoad(w.workerLabel(), float64(load))
}

func (w *Worker) decLoad() {
	w.mu.Lock()
	w.load--
	load := w.load
	w.mu.Unlock()
	w.metrics.SetWorkerLoad(w.workerLabel(), float64(load))
}

func (w *Worker) workerLabel() string {
	return strconv.Itoa(w.id)
}

// run drains the worker's request channel until ctx is canceled. It is
// meant to be run in its own goroutine for the lifetime of the server.
func (w *Worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.requests:
			req.apply()
		}
	}
}

// Disconnect asks the owning worker to close client's socket. Safe to call
// from any goroutine, including the owner's own.
func (w *Worker) Disconnect(client *ClientConn) {
	w.requests <- disconnectRequest{client: client}
}

// Relay asks the owning worker to deliver line to target's socket. Safe to
// call from any goroutine.
func (w *Worker) Relay(target *ClientConn, line []byte) {
	w.requests <- relayRequest{target: target, line: line}
}

// Attach accepts ownership of a newly dispatched connection and spawns its
// read-loop goroutine.
func (w *Worker) Attach(conn net.Conn, peerIP string, peerPort int) {
	w.incLoad()
	c := newClientConn(conn, peerIP, peerPort, w, NewPenaltyMeter(w.cfg.Penalty.WindowSeconds, w.cfg.Penalty.MaxPoints))

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.serve(c)
	}()
}

// Wait blocks until every connection this worker owns has finished its
// read loop.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// serve runs one connection's full lifecycle: registration, admission
// control, command dispatch, and teardown.
func (w *Worker) serve(c *ClientConn) {
	w.registry.AddClient(c)
	w.metrics.IncConnectedClients()

	if reason, ok := w.admit(c); !ok {
		w.teardown(c, reason)
		return
	}

	reason := w.dispatchLoop(c)
	w.teardown(c, reason)
}

// admit applies the accept-time admission checks in the order specified:
// global client cap, blacklist membership, then per-IP cap. c is already
// counted in the registry's clients and, from the first line here, in its
// IP's counter, so both caps refuse the connection that pushes the count
// past the limit; teardown's DecIP balances the increment whatever the
// outcome.
func (w *Worker) admit(c *ClientConn) (reason string, ok bool) {
	count := w.registry.IncIP(c.PeerIP())

	if w.registry.ClientCount() > w.cfg.Limits.MaxClients {
		return "max_clients", false
	}

	if w.blacklist != nil && w.blacklist.Contains(c.PeerIP()) {
		return "blacklisted", false
	}

	if w.cfg.Limits.MaxPerIP >= 0 && count > w.cfg.Limits.MaxPerIP {
		return "max_per_ip", false
	}

	return "", true
}

// teardown runs the disconnect hook: it is idempotent against a
// cross-worker eviction that already removed the client.
func (w *Worker) teardown(c *ClientConn, reason string) {
	c.Close()

	if !w.registry.RemoveClient(c) {
		return
	}

	w.registry.DecIP(c.PeerIP())
	if c.session != nil {
		if w.registry.RemoveSession(c.session) {
			w.metrics.DecRegisteredSessions()
		}
		c.session = nil
	}

	w.decLoad()
	w.metrics.DecConnectedClients()
	if reason != "" {
		w.metrics.IncDisconnect(reason)
	}
}

// dispatchLoop reads and dispatches commands until the connection
// terminates, and returns the reason for the eventual teardown.
func (w *Worker) dispatchLoop(c *ClientConn) string {
	for {
		line, err := readLine(c.reader)
		if err != nil {
			return "client_quit"
		}

		stripped, err := stripTerminator(line)
		if err != nil {
			return "malformed"
		}

		p, err := parseLine(stripped)
		if err != nil {
			return "malformed"
		}

		if c.state == stateAwaitingHandshake && p.cmd != cmdVersion {
			return "malformed"
		}

		if w.cfg.Penalty.Enabled && c.penalty.OverLimit() {
			w.metrics.IncPenaltyTrip()
			react := w.cfg.Penalty.OnLimit
			if react.Blacklist && w.blacklist != nil {
				w.blacklist.Add(c.PeerIP())
			}
			if react.Disconnect {
				return "penalty"
			}
			if react.Ignore {
				continue
			}
		}

		c.penalty.Add(w.costFor(p.cmd))
		w.metrics.IncCommandReceived(string(p.cmd))

		if !w.dispatch(c, p) {
			return "malformed"
		}
	}
}

// costFor returns the configured penalty cost for a command letter,
// defaulting to zero for an unrecognized letter (the dispatch itself is
// what rejects unknown commands).
func (w *Worker) costFor(cmd byte) int {
	return w.cfg.Penalty.Costs[string(cmd)]
}

// dispatch executes one parsed command against c's state. It returns false
// when the command is fatal to the connection, per the "no error reply"
// rule in the dispatch table.
func (w *Worker) dispatch(c *ClientConn, p parsedLine) bool {
	switch p.cmd {
	case cmdVersion:
		return w.handleVersion(c, p.payload)
	case cmdSessionList:
		return w.handleSessionList(c)
	case cmdRegister:
		return w.handleRegister(c, p.payload)
	case cmdHostname:
		return w.handleSetField(c, func(s *Session) { s.Hostname = string(p.payload) })
	case cmdMapname:
		return w.handleSetField(c, func(s *Session) { s.Mapname = string(p.payload) })
	case cmdCurrentUsers:
		return w.handleSetByte(c, func(s *Session, b byte) { s.CurrentUsers = b }, p.payload)
	case cmdMaxUsers:
		return w.handleSetByte(c, func(s *Session, b byte) { s.MaxUsers = b }, p.payload)
	case cmdGameType:
		return w.handleSetByte(c, func(s *Session, b byte) { s.GameType = b }, p.payload)
	case cmdClientCount:
		return w.handleClientCount(c)
	case cmdPing:
		return w.handlePing(c)
	case cmdInvite:
		return w.handleInvite(c, p.payload)
	default:
		return false
	}
}

func (w *Worker) handleVersion(c *ClientConn, payload []byte) bool {
	if len(payload) == 0 {
		c.version = 75
		c.state = stateActive
		return c.writeLine([]byte("V075\n")) == nil
	}

	n, err := parseDecimalUint(payload)
	if err != nil {
		return false
	}
	c.version = n
	c.state = stateActive
	return c.writeLine(formatVersionReply(serverVersion)) == nil
}

func (w *Worker) handleSessionList(c *ClientConn) bool {
	if c.version < serverVersion {
		return c.writeLine(oldVersionBanner) == nil
	}

	sessions := w.registry.SnapshotSessions()
	return c.writeLine(encodeSessionListResponse(sessions, c.version > 76)) == nil
}

func (w *Worker) handleRegister(c *ClientConn, payload []byte) bool {
	if c.version < 76 || c.session != nil {
		return false
	}

	port, err := parseDecimalUint16(payload)
	if err != nil {
		return false
	}

	s := &Session{Owner: c, Port: port, CurrentUsers: '0', MaxUsers: '8', GameType: '0'}
	evicted := w.registry.RegisterSession(s)
	c.session = s
	w.metrics.IncRegisteredSessions()

	if evicted != nil {
		// The evicted owner's teardown finds its session already replaced
		// and does not decrement the gauge, so it is done here.
		w.metrics.DecRegisteredSessions()
		evicted.Owner.ownerWorker.Disconnect(evicted.Owner)
	}

	return c.writeLine([]byte(registerOKReply)) == nil
}

func (w *Worker) handleSetField(c *ClientConn, set func(*Session)) bool {
	if c.session == nil {
		return false
	}
	set(c.session)
	return true
}

func (w *Worker) handleSetByte(c *ClientConn, set func(*Session, byte), payload []byte) bool {
	if c.session == nil || len(payload) < 1 {
		return false
	}
	set(c.session, payload[0])
	return true
}

func (w *Worker) handleClientCount(c *ClientConn) bool {
	return c.writeLine(formatClientCountReply(w.registry.ClientCount())) == nil
}

func (w *Worker) handlePing(c *ClientConn) bool {
	c.touchPing()
	return c.writeLine([]byte(pingReply)) == nil
}

func (w *Worker) handleInvite(c *ClientConn, payload []byte) bool {
	ip, port, ok := splitInvitePayload(payload)
	if !ok {
		return false
	}

	target, found := w.registry.FindSession(ip, port)
	if !found {
		return true
	}

	target.Owner.ownerWorker.Relay(target.Owner, formatInviteLine(c.PeerIP()))
	w.metrics.IncInviteRelay()
	return true
}

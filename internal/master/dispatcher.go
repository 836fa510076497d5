package master

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
)

// Dispatcher accepts connections on the configured listener and hands each
// one off to the least-loaded worker.
type Dispatcher struct {
	listener net.Listener
	workers  []*Worker
	logger   *slog.Logger
}

// NewDispatcher binds a TCP listener at addr and constructs a Dispatcher
// over workers.
func NewDispatcher(addr string, workers []*Worker, logger *slog.Logger) (*Dispatcher, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{listener: ln, workers: workers, logger: logger}, nil
}

// Addr returns the listener's bound address, useful when the configured
// port is 0 (ephemeral, as in tests).
func (d *Dispatcher) Addr() net.Addr {
	return d.listener.Addr()
}

// Close stops accepting new connections.
func (d *Dispatcher) Close() error {
	return d.listener.Close()
}

// Run accepts connections until ctx is canceled or the listener is closed.
func (d *Dispatcher) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		d.listener.Close()
	}()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		d.handleAccept(conn)
	}
}

// handleAccept selects the least-loaded worker and hands off the socket.
func (d *Dispatcher) handleAccept(conn net.Conn) {
	host, portStr, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		d.logger.Warn("could not parse remote address, dropping connection", slog.String("remote_addr", conn.RemoteAddr().String()))
		conn.Close()
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		conn.Close()
		return
	}

	w := d.selectWorker()
	w.Attach(conn, host, port)
}

// selectWorker scans every worker's load and returns the one with the
// smallest value, ties broken by lowest index.
func (d *Dispatcher) selectWorker() *Worker {
	best := d.workers[0]
	bestLoad := best.Load()
	for _, w := range d.workers[1:] {
		if l := w.Load(); l < bestLoad {
			best, bestLoad = w, l
		}
	}
	return best
}

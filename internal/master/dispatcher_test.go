package master

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"
)

func newTestWorkers(t *testing.T, n int) []*Worker {
	t.Helper()

	workers := make([]*Worker, n)
	for i := range workers {
		w, _ := newTestWorker(t, nil)
		workers[i] = w
	}
	return workers
}

func TestDispatcherSelectsLeastLoadedWorker(t *testing.T) {
	t.Parallel()

	workers := newTestWorkers(t, 3)
	workers[0].incLoad()
	workers[0].incLoad()
	workers[1].incLoad()

	d := &Dispatcher{workers: workers}

	got := d.selectWorker()
	if got != workers[2] {
		t.Errorf("selectWorker() picked worker with load %d, want worker[2] (load 0)", got.Load())
	}
}

func TestDispatcherSelectsLowestIndexOnTie(t *testing.T) {
	t.Parallel()

	workers := newTestWorkers(t, 3)

	d := &Dispatcher{workers: workers}
	if got := d.selectWorker(); got != workers[0] {
		t.Error("selectWorker() on all-zero load did not pick the lowest index")
	}
}

func TestDispatcherRunAcceptsAndHandsOffConnections(t *testing.T) {
	t.Parallel()

	workers := newTestWorkers(t, 2)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	d := &Dispatcher{listener: ln, workers: workers, logger: discardLogger()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("net.Dial() error = %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("?V77\r\n"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString() error = %v", err)
	}
	if reply != "V077\n" {
		t.Errorf("reply = %q, want V077\\n", reply)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Run() did not return after context cancellation")
	}
}

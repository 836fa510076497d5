package master

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/nfkplanet/planetd/internal/config"
	mastermetrics "github.com/nfkplanet/planetd/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// testRunContext returns a context canceled automatically at test cleanup,
// suitable for driving a Worker's request-drain goroutine for the
// lifetime of a single test.
func testRunContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestWorker(t *testing.T, cfg *config.Config) (*Worker, *Registry) {
	t.Helper()

	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	reg := NewRegistry()
	metrics := mastermetrics.NewCollector(prometheus.NewRegistry())
	logger := discardLogger()
	bl, err := config.LoadBlacklist("")
	if err != nil {
		t.Fatalf("LoadBlacklist() error = %v", err)
	}

	w := newWorker(1, reg, cfg, metrics, logger, bl)
	return w, reg
}

// attachPipe attaches the server half of an in-memory pipe to w and returns
// the client half plus a buffered reader over it.
func attachPipe(w *Worker, ip string) (net.Conn, *bufio.Reader) {
	clientSide, serverSide := net.Pipe()
	w.Attach(serverSide, ip, 40000)
	return clientSide, bufio.NewReader(clientSide)
}

func TestWorkerHandshakeExplicitVersion(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorker(t, nil)
	client, r := attachPipe(w, "10.0.0.1")
	defer client.Close()

	if _, err := client.Write([]byte("?V77\r\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	reply, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString() error = %v", err)
	}
	if reply != "V077\n" {
		t.Errorf("reply = %q, want %q", reply, "V077\n")
	}
}

func TestWorkerHandshakeImplicitVersion(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorker(t, nil)
	client, r := attachPipe(w, "10.0.0.1")
	defer client.Close()

	client.Write([]byte("?V\r\n"))
	reply, _ := r.ReadString('\n')
	if reply != "V075\n" {
		t.Errorf("reply = %q, want %q", reply, "V075\n")
	}
}

func TestWorkerRejectsNonVersionBeforeHandshake(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorker(t, nil)
	client, r := attachPipe(w, "10.0.0.1")
	defer client.Close()

	client.Write([]byte("?S\r\n"))

	client.SetReadDeadline(time.Now().Add(time.Second))
	_, err := r.ReadByte()
	if err == nil {
		t.Error("expected connection to be closed without a reply")
	}
}

func TestWorkerEmptySessionListNewClient(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorker(t, nil)
	client, r := attachPipe(w, "10.0.0.1")
	defer client.Close()

	client.Write([]byte("?V77\r\n"))
	r.ReadString('\n')

	client.Write([]byte("?G\r\n"))
	buf := make([]byte, len(sessionListTerminator))
	if _, err := readFull(r, buf); err != nil {
		t.Fatalf("read G response error = %v", err)
	}
	if string(buf) != sessionListTerminator {
		t.Errorf("G response = %q, want %q", buf, sessionListTerminator)
	}
}

func TestWorkerOldClientGetsBanner(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorker(t, nil)
	client, r := attachPipe(w, "10.0.0.1")
	defer client.Close()

	client.Write([]byte("?V75\r\n"))
	r.ReadString('\n')

	client.Write([]byte("?G\r\n"))
	buf := make([]byte, len(oldVersionBanner))
	if _, err := readFull(r, buf); err != nil {
		t.Fatalf("read banner error = %v", err)
	}
	if string(buf) != string(oldVersionBanner) {
		t.Errorf("banner mismatch")
	}
}

func TestWorkerRegisterAppearsInList(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorker(t, nil)
	go w.run(testRunContext(t))

	client, r := attachPipe(w, "10.0.0.1")
	defer client.Close()

	client.Write([]byte("?V77\r\n"))
	r.ReadString('\n')

	client.Write([]byte("?R20000\r\n"))
	r.ReadString('\n') // r\n

	client.Write([]byte("?Nmygame\r\n"))
	client.Write([]byte("?mdust\r\n"))
	client.Write([]byte("?C3\r\n"))
	client.Write([]byte("?M8\r\n"))
	client.Write([]byte("?P1\r\n"))

	client.Write([]byte("?G\r\n"))

	want := "L10.0.0.1\rmygame\rdust\r1\r3\r8\r20000\r\n\x00" + sessionListTerminator
	buf := make([]byte, len(want))
	if _, err := readFull(r, buf); err != nil {
		t.Fatalf("read G response error = %v", err)
	}
	if string(buf) != want {
		t.Errorf("G response = %q, want %q", buf, want)
	}
}

func TestWorkerPing(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorker(t, nil)
	client, r := attachPipe(w, "10.0.0.1")
	defer client.Close()

	client.Write([]byte("?V77\r\n"))
	r.ReadString('\n')

	client.Write([]byte("?K\r\n"))
	reply, err := r.ReadString('\n')
	if err != nil || reply != "K\n" {
		t.Errorf("reply = %q, err = %v, want K\\n", reply, err)
	}
}

func TestWorkerClientCount(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorker(t, nil)
	client, r := attachPipe(w, "10.0.0.1")
	defer client.Close()

	client.Write([]byte("?V77\r\n"))
	r.ReadString('\n')

	client.Write([]byte("?S\r\n"))
	reply, err := r.ReadString('\n')
	if err != nil || reply != "S1\n" {
		t.Errorf("reply = %q, err = %v, want S1\\n", reply, err)
	}
}

func TestWorkerRegisterCollisionDisconnectsPriorOwner(t *testing.T) {
	t.Parallel()

	w, reg := newTestWorker(t, nil)
	go w.run(testRunContext(t))

	first, r1 := attachPipe(w, "10.0.0.1")
	defer first.Close()
	first.Write([]byte("?V77\r\n"))
	r1.ReadString('\n')
	first.Write([]byte("?R40000\r\n"))
	r1.ReadString('\n')

	second, r2 := attachPipe(w, "10.0.0.1")
	defer second.Close()
	second.Write([]byte("?V77\r\n"))
	r2.ReadString('\n')
	second.Write([]byte("?R40000\r\n"))
	r2.ReadString('\n')

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := r1.ReadByte(); err == nil {
		t.Error("expected first connection to be disconnected after collision")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if reg.SessionCount() == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := reg.SessionCount(); got != 1 {
		t.Errorf("SessionCount() = %d, want 1", got)
	}
}

func TestWorkerInviteRelay(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorker(t, nil)
	go w.run(testRunContext(t))

	host, rHost := attachPipe(w, "10.0.0.5")
	defer host.Close()
	host.Write([]byte("?V77\r\n"))
	rHost.ReadString('\n')
	host.Write([]byte("?R7777\r\n"))
	rHost.ReadString('\n')

	requester, rReq := attachPipe(w, "10.0.0.9")
	defer requester.Close()
	requester.Write([]byte("?V77\r\n"))
	rReq.ReadString('\n')

	requester.Write([]byte("?X10.0.0.5:7777\r\n"))

	host.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := rHost.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString() error = %v", err)
	}
	if reply != "x10.0.0.9\n" {
		t.Errorf("relay line = %q, want %q", reply, "x10.0.0.9\n")
	}
}

func TestWorkerInviteNoTargetIsNoop(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorker(t, nil)
	client, r := attachPipe(w, "10.0.0.1")
	defer client.Close()

	client.Write([]byte("?V77\r\n"))
	r.ReadString('\n')

	client.Write([]byte("?X10.0.0.99:9999\r\n"))
	client.Write([]byte("?K\r\n"))

	reply, err := r.ReadString('\n')
	if err != nil || reply != "K\n" {
		t.Errorf("reply after no-op invite = %q, err = %v, want K\\n", reply, err)
	}
}

func TestWorkerInviteMalformedPayloadDisconnects(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorker(t, nil)
	client, r := attachPipe(w, "10.0.0.1")
	defer client.Close()

	client.Write([]byte("?V77\r\n"))
	r.ReadString('\n')

	client.Write([]byte("?Xnotanaddress\r\n"))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := client.Read(buf); err == nil {
		t.Error("expected connection to be closed after malformed invite payload")
	}
}

// readFull fills buf completely from r, like io.ReadFull.
func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

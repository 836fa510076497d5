package master

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/nfkplanet/planetd/internal/config"
	mastermetrics "github.com/nfkplanet/planetd/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func TestManagerServesHandshakeEndToEnd(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Listen.Address = "127.0.0.1"
	cfg.Listen.Port = 0
	cfg.Listen.Workers = 2
	cfg.Blacklist.Path = ""

	m := New(cfg, discardLogger(), WithMetrics(mastermetrics.NewCollector(prometheus.NewRegistry())))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()

	var addr net.Addr
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a := m.Addr(); a != nil {
			addr = a
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if addr == nil {
		t.Fatal("manager never bound a listener address")
	}

	conn, err := net.Dial("tcp", addr.String())
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
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Run() did not return after context cancellation")
	}
}

func TestManagerRejectsOverMaxClients(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Listen.Address = "127.0.0.1"
	cfg.Listen.Port = 0
	cfg.Listen.Workers = 1
	cfg.Limits.MaxClients = 1
	cfg.Blacklist.Path = ""

	m := New(cfg, discardLogger(), WithMetrics(mastermetrics.NewCollector(prometheus.NewRegistry())))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	var addr net.Addr
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a := m.Addr(); a != nil {
			addr = a
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if addr == nil {
		t.Fatal("manager never bound a listener address")
	}

	first, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("net.Dial() error = %v", err)
	}
	defer first.Close()
	first.Write([]byte("?V77\r\n"))
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	bufio.NewReader(first).ReadString('\n')

	second, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("net.Dial() error = %v", err)
	}
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := second.Read(buf); err == nil {
		t.Error("expected second connection to be refused over max_clients")
	}
}

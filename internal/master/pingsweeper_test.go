package master

import (
	"testing"
	"time"
)

func TestPingSweeperDisconnectsIdleClients(t *testing.T) {
	t.Parallel()

	w, reg := newTestWorker(t, nil)
	go w.run(testRunContext(t))

	client, _ := attachPipe(w, "10.0.0.1")
	defer client.Close()

	sweeper := NewPingSweeper(reg)
	sweeper.timeout = 10 * time.Millisecond

	time.Sleep(20 * time.Millisecond)
	sweeper.sweep(time.Now())

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := client.Read(buf); err == nil {
		t.Error("expected idle connection to be closed by sweeper")
	}
}

func TestPingSweeperSparesActiveClients(t *testing.T) {
	t.Parallel()

	w, reg := newTestWorker(t, nil)
	go w.run(testRunContext(t))

	client, r := attachPipe(w, "10.0.0.1")
	defer client.Close()

	sweeper := NewPingSweeper(reg)
	sweeper.timeout = time.Minute

	sweeper.sweep(time.Now())

	client.Write([]byte("?V77\r\n"))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("connection unexpectedly closed: %v", err)
	}
	if reply != "V077\n" {
		t.Errorf("reply = %q, want V077\\n", reply)
	}
}

package canbus

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rvlink/rvlink-core/internal/rvc"
)

// testGateway is a minimal in-process slcan gateway: it accepts one
// connection, pushes queued lines to the client, and records every
// line the client writes.
type testGateway struct {
	listener net.Listener

	mu       sync.Mutex
	received []string

	connReady chan net.Conn
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	g := &testGateway{
		listener:  listener,
		connReady: make(chan net.Conn, 1),
	}

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		g.connReady <- conn

		reader := bufio.NewReader(conn)
		for {
			line, err := reader.ReadString('\r')
			if err != nil {
				return
			}
			g.mu.Lock()
			g.received = append(g.received, line)
			g.mu.Unlock()
		}
	}()

	t.Cleanup(func() { listener.Close() })
	return g
}

func (g *testGateway) address() string {
	return "tcp://" + g.listener.Addr().String()
}

func (g *testGateway) push(t *testing.T, line string) {
	t.Helper()
	select {
	case conn := <-g.connReady:
		g.connReady <- conn
		if _, err := conn.Write([]byte(line)); err != nil {
			t.Fatalf("gateway write: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no client connection within 2s")
	}
}

func (g *testGateway) written() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.received...)
}

func testConnect(t *testing.T, gw *testGateway) *Client {
	t.Helper()

	client, err := Connect(context.Background(), Config{
		Name:    "house",
		Address: gw.address(),
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// ─── Receive path ──────────────────────────────────────────────────

func TestClientReceive(t *testing.T) {
	gw := newTestGateway(t)
	client := testConnect(t, gw)

	gw.push(t, "T19FEDA445197C640001\r")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	f, err := client.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if f.ID != 0x19FEDA44 {
		t.Errorf("ID = 0x%08X, want 0x19FEDA44", f.ID)
	}
	if f.Interface != "house" {
		t.Errorf("Interface = %q, want house", f.Interface)
	}
	if f.Timestamp.IsZero() {
		t.Error("Timestamp not stamped")
	}
	if got := client.Stats().FramesRx; got != 1 {
		t.Errorf("FramesRx = %d, want 1", got)
	}
}

func TestClientReceiveIgnoresNonExtendedLines(t *testing.T) {
	gw := newTestGateway(t)
	client := testConnect(t, gw)

	// A standard-frame line and a command echo precede the real frame.
	gw.push(t, "t1238AB\rOK\rT19FFB7803126064\r")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	f, err := client.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if f.ID != 0x19FFB780 {
		t.Errorf("ID = 0x%08X, want 0x19FFB780", f.ID)
	}
}

func TestClientReceiveSkipsOverlongLine(t *testing.T) {
	gw := newTestGateway(t)
	client := testConnect(t, gw)

	// A desynchronised gateway can emit garbage far past the longest
	// legal line. The client must discard it up to the terminator and
	// keep the connection rather than reconnecting.
	garbage := strings.Repeat("X", maxLineLen*3) + "\r"
	gw.push(t, garbage+"T19FEDA445197C640001\r")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	f, err := client.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if f.ID != 0x19FEDA44 {
		t.Errorf("ID = 0x%08X, want 0x19FEDA44", f.ID)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true (overlong line is not a disconnect)")
	}
	if got := client.Stats().ReconnectsTotal; got != 0 {
		t.Errorf("ReconnectsTotal = %d, want 0", got)
	}
}

func TestClientReceiveCancellation(t *testing.T) {
	gw := newTestGateway(t)
	client := testConnect(t, gw)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Receive(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Receive() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestClientReceiveAfterClose(t *testing.T) {
	gw := newTestGateway(t)
	client := testConnect(t, gw)

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	_, err := client.Receive(context.Background())
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Receive() error = %v, want ErrClosed", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}

// ─── Send path ─────────────────────────────────────────────────────

func TestClientSend(t *testing.T) {
	gw := newTestGateway(t)
	client := testConnect(t, gw)

	f := rvc.NewCommandFrame(0x1FEDB, 0x99, []byte{25, 0xFF, 100, 0x00, 0x00}, "house")
	if err := client.Send(context.Background(), f); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if lines := gw.written(); len(lines) > 0 {
			if lines[0] != "T19FEDB99519FF640000\r" {
				t.Errorf("gateway saw %q, want T19FEDB99519FF640000", lines[0])
			}
			if got := client.Stats().FramesTx; got != 1 {
				t.Errorf("FramesTx = %d, want 1", got)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("gateway never received the frame")
}

func TestClientSendValidation(t *testing.T) {
	gw := newTestGateway(t)
	client := testConnect(t, gw)

	bad := rvc.Frame{ID: 0x19FEDB99, Data: make([]byte, 9)}
	if err := client.Send(context.Background(), bad); !errors.Is(err, ErrSendFailed) {
		t.Errorf("Send(oversized) error = %v, want ErrSendFailed", err)
	}

	client.Close()
	good := rvc.Frame{ID: 0x19FEDB99}
	if err := client.Send(context.Background(), good); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send after Close error = %v, want ErrNotConnected", err)
	}
}

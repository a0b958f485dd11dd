package printer

import (
	"context"
	"net"
	"testing"
)

func listen(t *testing.T) net.Listener {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				buf := make([]byte, 4096)
				for {
					if _, err := c.Read(buf); err != nil {
						c.Close()
						return
					}
				}
			}(conn)
		}
	}()

	return ln
}

func TestTCPTransportConnectWriteClose(t *testing.T) {
	ln := listen(t)
	device := Device{Name: "MPT-II", Address: ln.Addr().String()}

	tr := NewTCPTransport([]Device{device})

	if tr.IsConnected() {
		t.Fatalf("transport must start disconnected")
	}
	if err := tr.Write([]byte("x")); err != ErrNotConnected {
		t.Fatalf("write before connect: got %v, want ErrNotConnected", err)
	}

	if err := tr.Connect(context.Background(), device); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !tr.IsConnected() {
		t.Fatalf("transport must report an active connection")
	}

	if err := tr.Write([]byte("\x1b@hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	tr.Close()
	if tr.IsConnected() {
		t.Fatalf("transport must report closed after Close")
	}
	if err := tr.Write([]byte("x")); err != ErrNotConnected {
		t.Fatalf("write after close: got %v, want ErrNotConnected", err)
	}
}

func TestTCPTransportConnectReplacesPrevious(t *testing.T) {
	first := listen(t)
	second := listen(t)

	tr := NewTCPTransport(nil)

	if err := tr.Connect(context.Background(), Device{Name: "a", Address: first.Addr().String()}); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if err := tr.Connect(context.Background(), Device{Name: "b", Address: second.Addr().String()}); err != nil {
		t.Fatalf("second connect: %v", err)
	}

	if !tr.IsConnected() {
		t.Fatalf("transport must stay connected after reconnect")
	}
	if err := tr.Write([]byte("ping")); err != nil {
		t.Fatalf("write after reconnect: %v", err)
	}
}

func TestTCPTransportDiscover(t *testing.T) {
	ln := listen(t)
	alive := Device{Name: "MPT-II", Address: ln.Addr().String()}
	dead := Device{Name: "ghost", Address: "127.0.0.1:1"}

	tr := NewTCPTransport([]Device{dead, alive})

	found := tr.Discover(context.Background())
	if len(found) != 1 || found[0].Name != "MPT-II" {
		t.Fatalf("discover = %+v, want only the listening device", found)
	}
}

func TestTCPTransportDiscoverSkippedWhileConnected(t *testing.T) {
	ln := listen(t)
	device := Device{Name: "MPT-II", Address: ln.Addr().String()}

	tr := NewTCPTransport([]Device{device})
	if err := tr.Connect(context.Background(), device); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if found := tr.Discover(context.Background()); found != nil {
		t.Fatalf("discover during an active connection must be skipped, got %+v", found)
	}
}

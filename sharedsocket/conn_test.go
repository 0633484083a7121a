package sharedsocket

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"reflect"
	"testing"
	"time"
)

// This test checks that packets from addresses without a PeerConn are dropped.
func TestUnknownPeerDropped(t *testing.T) {
	c1, err := Listen("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer c1.Close()

	known, unknown := listenUDP(t), listenUDP(t)
	pc, err := c1.Dial(known.LocalAddr().(*net.UDPAddr).AddrPort())
	if err != nil {
		t.Fatal(err)
	}
	defer pc.Close()

	unknown.WriteTo([]byte("from unknown"), c1.LocalAddr())
	known.WriteTo([]byte("from known"), c1.LocalAddr())

	read := make(chan readEvent, 1)
	go readOne(pc, read)
	if err := tryRecv(read, readEvent{[]byte("from known"), nil}, 1*time.Second); err != nil {
		t.Fatal(err)
	}

	// Nothing else was queued for the peer.
	pc.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if _, err := pc.Read(make([]byte, 100)); !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("second read returned %v, want deadline exceeded", err)
	}
}

// This test checks that packets are delivered to the PeerConn of their source address.
func TestPeerConn(t *testing.T) {
	c1, err := Listen("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer c1.Close()

	peerA, peerB := listenUDP(t), listenUDP(t)
	pcA, err := c1.Dial(peerA.LocalAddr().(*net.UDPAddr).AddrPort())
	if err != nil {
		t.Fatal(err)
	}
	defer pcA.Close()
	pcB, err := c1.Dial(peerB.LocalAddr().(*net.UDPAddr).AddrPort())
	if err != nil {
		t.Fatal(err)
	}
	defer pcB.Close()

	var (
		readA = make(chan readEvent, 1)
		readB = make(chan readEvent, 1)
	)
	go readOne(pcA, readA)
	go readOne(pcB, readB)

	peerB.WriteTo([]byte("from B"), c1.LocalAddr())
	peerA.WriteTo([]byte("from A"), c1.LocalAddr())

	timeout := 1 * time.Second
	if err := tryRecv(readA, readEvent{[]byte("from A"), nil}, timeout); err != nil {
		t.Fatal("peer A:", err)
	}
	if err := tryRecv(readB, readEvent{[]byte("from B"), nil}, timeout); err != nil {
		t.Fatal("peer B:", err)
	}

	// Writes on the PeerConn go to the peer.
	if _, err := pcA.Write([]byte("reply")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 100)
	peerA.SetReadDeadline(time.Now().Add(timeout))
	n, from, err := peerA.ReadFrom(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "reply" {
		t.Fatalf("wrong reply %q", buf[:n])
	}
	if from.String() != c1.LocalAddr().String() {
		t.Fatalf("reply from wrong address %v", from)
	}
}

func TestPeerConnDuplicate(t *testing.T) {
	c1, err := Listen("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer c1.Close()

	addr := listenUDP(t).LocalAddr().(*net.UDPAddr).AddrPort()
	pc, err := c1.Dial(addr)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c1.Dial(addr); err == nil {
		t.Fatal("second Dial for same address succeeded")
	}

	// After closing, the address can be used again.
	pc.Close()
	pc2, err := c1.Dial(addr)
	if err != nil {
		t.Fatal("Dial after close:", err)
	}
	pc2.Close()
}

func TestPeerConnDeadline(t *testing.T) {
	c1, err := Listen("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer c1.Close()

	pc, err := c1.Dial(listenUDP(t).LocalAddr().(*net.UDPAddr).AddrPort())
	if err != nil {
		t.Fatal(err)
	}
	defer pc.Close()

	pc.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
	_, err = pc.Read(make([]byte, 10))
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("wrong error %v, want deadline exceeded", err)
	}
}

// This test checks that closing the shared socket unblocks readers.
func TestPeerConnClose(t *testing.T) {
	c1, err := Listen("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	pc, err := c1.Dial(listenUDP(t).LocalAddr().(*net.UDPAddr).AddrPort())
	if err != nil {
		t.Fatal(err)
	}
	read := make(chan readEvent, 1)
	go readOne(pc, read)

	c1.Close()
	if err := tryRecv(read, readEvent{[]byte{}, net.ErrClosed}, 1*time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := c1.Dial(netip.MustParseAddrPort("127.0.0.1:1234")); !errors.Is(err, net.ErrClosed) {
		t.Fatalf("Dial on closed socket returned %v", err)
	}
}

type readEvent struct {
	data []byte
	err  error
}

func readOne(c net.Conn, ch chan<- readEvent) {
	msg := make([]byte, 1024)
	n, err := c.Read(msg)
	ch <- readEvent{msg[:n], err}
}

func listenUDP(t *testing.T) net.PacketConn {
	c, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func tryRecv[T any](ch <-chan T, expected T, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-ch:
		if !reflect.DeepEqual(v, expected) {
			return fmt.Errorf("%v does not match expected value %v", v, expected)
		}
		return nil
	case <-timer.C:
		return errors.New("receive timeout")
	}
}

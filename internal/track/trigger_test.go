package track

import (
	"net"
	"strings"
	"testing"
	"time"
)

func TestNormalizeTrackID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"7", "07"},
		{"07", "07"},
		{"12", "12"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeTrackID(tt.in); got != tt.want {
			t.Errorf("NormalizeTrackID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// listenUDP opens a local UDP socket and returns received payloads.
func listenUDP(t *testing.T) (int, chan []byte) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	got := make(chan []byte, 4)
	go func() {
		buf := make([]byte, 1024)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			payload := make([]byte, n)
			copy(payload, buf[:n])
			got <- payload
		}
	}()
	return conn.LocalAddr().(*net.UDPAddr).Port, got
}

func TestPlayTrackSendsOSCAddress(t *testing.T) {
	port, got := listenUDP(t)
	tr := NewTrigger("127.0.0.1", port)

	if err := tr.PlayTrack("7"); err != nil {
		t.Fatalf("PlayTrack: %v", err)
	}

	select {
	case payload := <-got:
		if !strings.Contains(string(payload), "/track/07/play") {
			t.Errorf("payload %q does not carry /track/07/play", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no datagram received")
	}
}

func TestStopTrackSendsOSCAddress(t *testing.T) {
	port, got := listenUDP(t)
	tr := NewTrigger("127.0.0.1", port)

	if err := tr.StopTrack("12"); err != nil {
		t.Fatalf("StopTrack: %v", err)
	}

	select {
	case payload := <-got:
		if !strings.Contains(string(payload), "/track/12/stop") {
			t.Errorf("payload %q does not carry /track/12/stop", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no datagram received")
	}
}

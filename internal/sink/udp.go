package sink

import (
	"fmt"
	"net"
	"sync"
)

// UDPConfig holds the datagram destination, e.g. "192.168.10.255:10110".
type UDPConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Dest    string `yaml:"dest" json:"dest"`
}

// UDP sends each sentence as its own datagram.
type UDP struct {
	dest string

	mu   sync.Mutex
	conn *net.UDPConn
}

func NewUDP(cfg UDPConfig) *UDP {
	if cfg.Dest == "" {
		cfg.Dest = "127.0.0.1:10110"
	}
	return &UDP{dest: cfg.Dest}
}

func (u *UDP) Name() string { return "udp " + u.dest }

func (u *UDP) Connect() error {
	addr, err := net.ResolveUDPAddr("udp", u.dest)
	if err != nil {
		return fmt.Errorf("udp: resolve %s: %w", u.dest, err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("udp: dial %s: %w", u.dest, err)
	}

	u.mu.Lock()
	u.conn = conn
	u.mu.Unlock()
	return nil
}

func (u *UDP) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	return err
}

func (u *UDP) Publish(_ string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return ErrNotConnected
	}
	_, err := u.conn.Write(line(payload))
	return err
}

package sink

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// SerialConfig holds configuration for the serial NMEA output.
type SerialConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	PortPath string `yaml:"port_path" json:"portPath"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

// Serial writes sentences to a UART, the way a real GPS receiver would.
// Useful for feeding EFBs and autopilots over a USB-serial adapter.
type Serial struct {
	portPath string
	baudRate int
	log      zerolog.Logger

	open func(string, *serial.Mode) (serial.Port, error)

	mu   sync.Mutex
	port serial.Port
}

// NewSerial creates a serial sink.
func NewSerial(cfg SerialConfig, log zerolog.Logger) *Serial {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 4800 // NMEA 0183 standard rate
	}
	return &Serial{
		portPath: cfg.PortPath,
		baudRate: cfg.BaudRate,
		log:      log.With().Str("component", "serial").Logger(),
		open:     serial.Open,
	}
}

func (s *Serial) Name() string { return "serial " + s.portPath }

func (s *Serial) Connect() error {
	mode := &serial.Mode{
		BaudRate: s.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := s.open(s.portPath, mode)
	if err != nil {
		return fmt.Errorf("serial: failed to open %s: %w", s.portPath, err)
	}

	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
	s.log.Info().Str("port", s.portPath).Int("baud", s.baudRate).Msg("opened")
	return nil
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// Publish writes the sentence followed by CRLF. The topic is ignored.
func (s *Serial) Publish(_ string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return ErrNotConnected
	}
	if _, err := s.port.Write(line(payload)); err != nil {
		return fmt.Errorf("serial: write %s: %w", s.portPath, err)
	}
	return nil
}

package logger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaunagostinho/flightsim/internal/sim"
)

// Logger records simulated tracks to CSV files with automatic rotation.
type Logger struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool
	log      zerolog.Logger

	file   *os.File
	writer *csv.Writer
	lastTs time.Time
	rows   int
}

// Config holds track recorder configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
}

const (
	maxRowsPerFile = 100_000 // Rotate after 100k rows (~28 hrs for one aircraft at 1 Hz)
)

var csvHeader = []string{
	"timestamp", "aircraft",
	"lat", "lon", "alt_m", "speed_mps", "heading_deg",
	"gprmc", "gpgga",
}

// New creates a new Logger.
func New(cfg Config, log zerolog.Logger) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/flightsim"
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 0 {
		interval = 0
	}
	return &Logger{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
		log:      log.With().Str("component", "track").Logger(),
	}
}

// SetEnabled allows toggling recording at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether recording is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Record writes one row per aircraft if the minimum interval has elapsed
// since the previous recorded tick.
func (l *Logger) Record(now time.Time, reports []sim.Report) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || len(reports) == 0 {
		return
	}
	if !l.lastTs.IsZero() && now.Sub(l.lastTs) < l.interval {
		return
	}
	l.lastTs = now

	if l.writer == nil || l.rows >= maxRowsPerFile {
		if err := l.rotateFile(now); err != nil {
			l.log.Error().Err(err).Msg("rotate failed")
			return
		}
	}

	for _, r := range reports {
		if err := l.writer.Write(buildRow(now, r)); err != nil {
			l.log.Error().Err(err).Msg("write failed")
			return
		}
		l.rows++
	}
	l.writer.Flush()
}

// Close flushes and closes the current file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("track_%s.csv", now.Format("2006-01-02_150405"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	l.log.Info().Str("path", path).Msg("opened track file")
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func buildRow(ts time.Time, r sim.Report) []string {
	p := r.Position
	return []string{
		ts.UTC().Format(time.RFC3339Nano),
		r.ID,
		strconv.FormatFloat(p.Latitude, 'f', 7, 64),
		strconv.FormatFloat(p.Longitude, 'f', 7, 64),
		strconv.FormatFloat(p.Altitude, 'f', 1, 64),
		strconv.FormatFloat(p.Speed, 'f', 1, 64),
		strconv.FormatFloat(p.Heading, 'f', 2, 64),
		r.Messages.GPRMC,
		r.Messages.GPGGA,
	}
}

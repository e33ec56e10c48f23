// Package influx exports simulated tracks to InfluxDB, falling back to a
// gzip line-protocol file when the server is unreachable.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/shaunagostinho/flightsim/internal/sim"
)

// Config holds InfluxDB export settings.
type Config struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	URL         string `yaml:"url" json:"url"`
	Token       string `yaml:"token" json:"-"`
	Org         string `yaml:"org" json:"org"`
	Bucket      string `yaml:"bucket" json:"bucket"`
	Measurement string `yaml:"measurement" json:"measurement"`
	BackupPath  string `yaml:"backup_path" json:"backupPath"`
}

// Exporter writes one point per aircraft per tick.
type Exporter struct {
	cfg Config
	log zerolog.Logger

	mu         sync.Mutex
	client     influxdb2.Client
	writer     influxdb2_api.WriteAPI
	backupFile *os.File
	backup     *gzip.Writer
	valid      bool
}

// New creates an exporter. Nothing is dialled until Connect.
func New(cfg Config, log zerolog.Logger) *Exporter {
	if cfg.Measurement == "" {
		cfg.Measurement = "aircraft_position"
	}
	return &Exporter{
		cfg: cfg,
		log: log.With().Str("component", "influx").Logger(),
	}
}

// ErrUnreachable is returned by Connect while the server cannot be pinged.
// Points go to the backup file until a later Connect succeeds.
var ErrUnreachable = errors.New("influx: server unreachable")

// Connect pings the server. On failure it opens the backup file so that
// Record keeps working, and returns ErrUnreachable so the caller retries.
func (e *Exporter) Connect() error {
	client := influxdb2.NewClientWithOptions(
		e.cfg.URL,
		e.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	running, err := client.Ping(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil || !running {
		client.Close()
		if e.backup == nil {
			e.log.Warn().Err(err).Str("url", e.cfg.URL).Str("backupPath", e.cfg.BackupPath).
				Msg("InfluxDB unreachable, writing to backup file")
		}
		if berr := e.openBackup(); berr != nil {
			return errors.Join(ErrUnreachable, berr)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		return ErrUnreachable
	}

	if e.backup != nil {
		if err := e.closeBackup(); err != nil {
			e.log.Warn().Err(err).Msg("closing backup file")
		}
	}

	e.client = client
	e.writer = client.WriteAPI(e.cfg.Org, e.cfg.Bucket)
	e.valid = true

	errorsCh := e.writer.Errors()
	go func() {
		for writeErr := range errorsCh {
			e.log.Error().Err(writeErr).Str("bucket", e.cfg.Bucket).Msg("error sending data to InfluxDB")
		}
	}()

	e.log.Info().Str("url", e.cfg.URL).Str("bucket", e.cfg.Bucket).Msg("InfluxDB client initialized")
	return nil
}

func (e *Exporter) openBackup() error {
	if e.backup != nil {
		return nil
	}
	if e.cfg.BackupPath == "" {
		return fmt.Errorf("influx: server unreachable and no backup path configured")
	}
	if err := os.MkdirAll(filepath.Dir(e.cfg.BackupPath), 0755); err != nil {
		return fmt.Errorf("influx: mkdir for backup: %w", err)
	}
	f, err := os.OpenFile(e.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("influx: error creating backup file: %w", err)
	}
	e.backupFile = f
	e.backup = gzip.NewWriter(f)
	return nil
}

// Record writes the tick's positions.
func (e *Exporter) Record(now time.Time, reports []sim.Report) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range reports {
		p := Point(e.cfg.Measurement, now, r)
		switch {
		case e.valid:
			e.writer.WritePoint(p)
		case e.backup != nil:
			lp := influxdb2_write.PointToLineProtocol(p, time.Nanosecond)
			if _, err := e.backup.Write([]byte(lp + "\n")); err != nil {
				return fmt.Errorf("influx: write backup: %w", err)
			}
		default:
			return fmt.Errorf("influx: not connected")
		}
	}
	return nil
}

// Close flushes pending points and closes the client or backup file.
func (e *Exporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.valid {
		e.writer.Flush()
		e.client.Close()
		e.valid = false
	}
	if e.backup != nil {
		return e.closeBackup()
	}
	return nil
}

func (e *Exporter) closeBackup() error {
	err := e.backup.Close()
	e.backup = nil
	if cerr := e.backupFile.Close(); err == nil {
		err = cerr
	}
	e.backupFile = nil
	return err
}

// Point converts one report into an InfluxDB point tagged by aircraft id.
func Point(measurement string, now time.Time, r sim.Report) *influxdb2_write.Point {
	return influxdb2.NewPoint(
		measurement,
		map[string]string{"aircraft": r.ID},
		map[string]interface{}{
			"lat":         r.Position.Latitude,
			"lon":         r.Position.Longitude,
			"alt_m":       r.Position.Altitude,
			"speed_mps":   r.Position.Speed,
			"heading_deg": r.Position.Heading,
		},
		now,
	)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaunagostinho/flightsim/internal/gps"
	"github.com/shaunagostinho/flightsim/internal/influx"
	"github.com/shaunagostinho/flightsim/internal/logger"
	"github.com/shaunagostinho/flightsim/internal/server"
	"github.com/shaunagostinho/flightsim/internal/sim"
	"github.com/shaunagostinho/flightsim/internal/sink"
	"github.com/shaunagostinho/flightsim/web"
)

func main() {
	configPath := flag.String("config", "/etc/flightsim/config.yaml", "Path to config file")
	broker := flag.String("broker", "", "Override MQTT broker URL (e.g. tcp://localhost:1883)")
	username := flag.String("username", "", "Override MQTT username")
	password := flag.String("password", "", "Override MQTT password")
	topic := flag.String("topic", "", "Override topic; {id} expands to the aircraft id")
	aircraft := flag.Int("aircraft", 0, "Override fleet size")
	preset := flag.String("preset", "", "Orbit center preset (manhattan, paris, sao_paulo, sydney, shanghai)")
	listenAddr := flag.String("listen", "", "Enable the live feed on this address (e.g. :8080)")
	stdout := flag.Bool("stdout", false, "Also print sentences to stdout")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	log.Info().Msg("flightsim starting")

	cfg := server.LoadConfig(*configPath, log)
	applyFlags(cfg, flagOverrides{
		broker: *broker, username: *username, password: *password, topic: *topic,
		aircraft: *aircraft, preset: *preset, listen: *listenAddr, stdout: *stdout, logLevel: *logLevel,
	})

	if lvl, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil && cfg.Logging.Level != "" {
		log = log.Level(lvl)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	// Bad orbit parameters fail here, before anything is published.
	configs, err := cfg.Aircraft()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid fleet config")
	}
	fleet, err := sim.NewFleet(configs, gps.NewBuilder(nil))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid fleet config")
	}
	log.Info().Strs("aircraft", fleet.IDs()).Msg("fleet ready")

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	track := logger.New(cfg.Track, log)
	defer track.Close()

	// Sinks connect in the background with backoff; the tick loop starts
	// regardless and publishes to whichever are up.
	var sinks sink.Multi
	if cfg.MQTT.Enabled {
		m := sink.NewMQTT(cfg.MQTT, log)
		sinks = append(sinks, m)
		go connectWithRetry(ctx, log, m.Name(), m, 10)
	}
	if cfg.Serial.Enabled {
		s := sink.NewSerial(cfg.Serial, log)
		sinks = append(sinks, s)
		go connectWithRetry(ctx, log, s.Name(), s, 10)
	}
	if cfg.UDP.Enabled {
		u := sink.NewUDP(cfg.UDP)
		sinks = append(sinks, u)
		go connectWithRetry(ctx, log, u.Name(), u, 10)
	}
	if cfg.Stdout.Enabled {
		sinks = append(sinks, sink.NewWriter("stdout", os.Stdout))
	}
	if cfg.Server.Enabled {
		srv := server.New(cfg, web.FS, log)
		srv.AttachTrack(track)
		sinks = append(sinks, srv)
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Error().Err(err).Msg("live feed server exited")
			}
		}()
	}
	if len(sinks) == 0 {
		log.Warn().Msg("no sinks enabled; sentences are only logged at debug level")
	}

	var exporter *influx.Exporter
	if cfg.Influx.Enabled {
		exporter = influx.New(cfg.Influx, log)
		go connectWithRetry(ctx, log, "InfluxDB", exporter, 10)
		defer exporter.Close()
	}

	interval := time.Duration(cfg.Sim.TickMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	runLoop(ctx, log, fleet, sinks, cfg.MQTT.Topic, interval, func(now time.Time, reports []sim.Report) {
		track.Record(now, reports)
		if exporter != nil {
			if err := exporter.Record(now, reports); err != nil {
				log.Debug().Err(err).Msg("influx record skipped")
			}
		}
	})

	if err := sinks.Close(); err != nil {
		log.Warn().Err(err).Msg("closing sinks")
	}
	log.Info().Msg("stopped")
}

type flagOverrides struct {
	broker, username, password, topic string
	aircraft                          int
	preset, listen                    string
	stdout                            bool
	logLevel                          string
}

// applyFlags layers command-line values over the file and env config.
func applyFlags(cfg *server.Config, f flagOverrides) {
	if f.broker != "" {
		cfg.MQTT.Broker = f.broker
		cfg.MQTT.Enabled = true
	}
	if f.username != "" {
		cfg.MQTT.Username = f.username
	}
	if f.password != "" {
		cfg.MQTT.Password = f.password
	}
	if f.topic != "" {
		cfg.MQTT.Topic = f.topic
	}
	if f.aircraft > 0 {
		cfg.Fleet.Size = f.aircraft
		cfg.Fleet.Aircraft = nil
	}
	if f.preset != "" {
		cfg.Fleet.CenterPreset = f.preset
	}
	if f.listen != "" {
		cfg.Server.ListenAddr = f.listen
		cfg.Server.Enabled = true
	}
	if f.stdout {
		cfg.Stdout.Enabled = true
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
}

// runLoop ticks the fleet once immediately and then once per interval
// until ctx is cancelled.
func runLoop(ctx context.Context, log zerolog.Logger, fleet *sim.Fleet, out sink.Sink,
	topicTemplate string, interval time.Duration, record func(time.Time, []sim.Report)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Unreachable sinks fail every tick; keep the log readable.
	errLog := log.Sample(&zerolog.BurstSampler{Burst: 5, Period: time.Minute})

	for {
		now := time.Now()
		reports := fleet.Tick(now)
		if err := publishReports(out, topicTemplate, reports); err != nil {
			errLog.Warn().Err(err).Msg("publish failed")
		}
		for _, r := range reports {
			log.Debug().Str("aircraft", r.ID).Str("gprmc", r.Messages.GPRMC).Str("gpgga", r.Messages.GPGGA).Msg("tick")
		}
		if record != nil {
			record(now, reports)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// publishReports sends GPRMC then GPGGA for each aircraft in fleet order.
func publishReports(out sink.Sink, topicTemplate string, reports []sim.Report) error {
	if out == nil {
		return nil
	}
	var errs []error
	for _, r := range reports {
		topic := sink.Topic(topicTemplate, r.ID)
		for _, sentence := range []string{r.Messages.GPRMC, r.Messages.GPGGA} {
			if err := sink.PublishAircraft(out, r.ID, topic, []byte(sentence)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", r.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// connectable is satisfied by every sink and the InfluxDB exporter.
type connectable interface {
	Connect() error
	Close() error
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval indefinitely.
func connectWithRetry(ctx context.Context, log zerolog.Logger, name string, c connectable, maxAttempts int) {
	connectWithBackoff(ctx, log, name, c, maxAttempts, 1*time.Second, 60*time.Second)
}

func connectWithBackoff(ctx context.Context, log zerolog.Logger, name string, c connectable,
	maxAttempts int, delay, maxDelay time.Duration) bool {
	log = log.With().Str("component", "connect").Str("sink", name).Logger()
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		err := c.Connect()
		if err == nil {
			log.Info().Int("attempt", attempt+1).Msg("connected successfully")
			return true
		}

		attempt++
		ev := log.Warn()
		if attempt > maxAttempts {
			ev = log.Debug()
		}
		ev.Err(err).Int("attempt", attempt).Dur("retryIn", delay).Msg("connect failed")

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

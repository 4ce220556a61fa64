package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/cuesync/cuesyncd/internal/api"
	"github.com/cuesync/cuesyncd/internal/audio"
	"github.com/cuesync/cuesyncd/internal/config"
	"github.com/cuesync/cuesyncd/internal/db"
	"github.com/cuesync/cuesyncd/internal/discovery"
	"github.com/cuesync/cuesyncd/internal/eventbus"
	"github.com/cuesync/cuesyncd/internal/gateway"
	"github.com/cuesync/cuesyncd/internal/influx"
	"github.com/cuesync/cuesyncd/internal/mqttpub"
	"github.com/cuesync/cuesyncd/internal/programs"
	"github.com/cuesync/cuesyncd/internal/realtime"
	"github.com/cuesync/cuesyncd/internal/scheduler"
	"github.com/cuesync/cuesyncd/internal/statesync"
	"github.com/cuesync/cuesyncd/internal/store"
	"github.com/cuesync/cuesyncd/internal/timing"
	"github.com/cuesync/cuesyncd/internal/track"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB       *db.DB
	Bus      *eventbus.Bus
	Store    *store.Store
	Metrics  *timing.Metrics
	Programs *programs.Store

	// Gateway-facing services, created in Start once the address is known
	Client       *gateway.Client
	Synchronizer *statesync.Synchronizer
	Scheduler    *scheduler.Scheduler
	Stream       *realtime.Stream
	Monitor      *timing.Monitor

	// Optional bridges
	Audio  *audio.Player
	MQTT   *mqttpub.Publisher
	Influx *influx.Writer
	API    *api.Server
}

// NewServices creates the offline half of the service graph: everything
// that does not need the gateway address yet.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	s.Store = store.New()

	s.Metrics = timing.NewMetrics()
	s.Metrics.SetDriftThreshold(cfg.Timing.DriftThresholdMS)

	s.Programs = programs.NewStore(database.DB, cfg.Audio.Dir)

	if cfg.Audio.Enabled {
		s.Audio = audio.NewPlayer()
	}

	return s, nil
}

// Start wires the gateway-facing services and starts all background
// loops. The onFatalError callback is called when the event stream
// exhausts its reconnect attempts.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	baseURL, err := s.resolveGatewayURL(ctx)
	if err != nil {
		return err
	}
	log.Info().Str("gateway", baseURL).Msg("Using lighting gateway")

	s.Client = gateway.NewClient(baseURL, s.cfg.Gateway.Timeout.Duration(), s.Store)
	if err := s.Client.Ping(ctx); err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}

	var trigger scheduler.TrackTrigger
	if s.cfg.Track.Enabled {
		trigger = track.NewTrigger(s.cfg.Track.Host, s.cfg.Track.Port)
	}
	s.Scheduler = scheduler.New(s.Client, s.Programs, trigger, s.Metrics, s.Store)
	s.Scheduler.SetHistory(s.Programs)

	// The monitor always exists so the timing API can start it on demand;
	// it polls nothing until asked to run.
	s.Monitor = timing.NewMonitor(baseURL, s.cfg.Timing.PollInterval.Duration(), s.cfg.Gateway.Timeout.Duration())

	// The full table must be in place before the first push event can
	// arrive, so load strictly precedes the subscription.
	s.Synchronizer = statesync.New(s.Client, s.Store)
	if err := s.Synchronizer.InitialLoad(ctx); err != nil {
		return err
	}
	s.Synchronizer.Subscribe(s.Bus)

	if s.cfg.MQTT.Enabled {
		pub, err := mqttpub.Connect(ctx, s.cfg.MQTT.Broker, s.cfg.MQTT.ClientID,
			s.cfg.MQTT.Username, s.cfg.MQTT.Password, s.cfg.MQTT.TopicPrefix)
		if err != nil {
			// The mirror is an optional convenience; the show must go on.
			log.Warn().Err(err).Msg("MQTT bridge unavailable, continuing without it")
		} else {
			s.MQTT = pub
			s.MQTT.Subscribe(s.Bus)
		}
	}

	if s.cfg.Influx.Enabled {
		w, err := influx.Connect(s.cfg.Influx.URL, s.cfg.Influx.Token,
			s.cfg.Influx.Org, s.cfg.Influx.Bucket)
		if err != nil {
			log.Warn().Err(err).Msg("InfluxDB unavailable, continuing without drift export")
		} else {
			s.Influx = w
			s.Metrics.SetDriftSink(w.WriteDrift)
			// Continuous export wants the gateway snapshots regardless of
			// any monitor view, so polling starts right away.
			s.Monitor.OnUpdate(w.WriteSnapshot)
			s.Monitor.Start(ctx)
		}
	}

	s.Stream = realtime.NewStream(baseURL, realtime.Config{
		MinBackoff:    s.cfg.Gateway.MinRetryBackoff.Duration(),
		MaxBackoff:    s.cfg.Gateway.MaxRetryBackoff.Duration(),
		Multiplier:    s.cfg.Gateway.RetryMultiplier,
		MaxReconnects: s.cfg.Gateway.MaxReconnects,
	})
	go func() {
		if err := s.Stream.Run(ctx, s.Bus); err != nil {
			if errors.Is(err, realtime.ErrMaxReconnectsExceeded) {
				onFatalError(err)
				return
			}
			log.Error().Err(err).Msg("Event stream stopped")
		}
	}()

	if s.cfg.Healthcheck.Enabled {
		var clock api.AudioClock
		if s.Audio != nil {
			clock = s.Audio
		}
		s.API = api.NewServer(s.cfg.Healthcheck.Host, s.cfg.Healthcheck.Port,
			s.Store, s.Programs, s.Scheduler, clock, s.Monitor, s.Metrics, s.cfg.Audio.Dir)
		go func() {
			if err := s.API.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
				log.Error().Err(err).Msg("API server stopped")
			}
		}()
	}

	return nil
}

// resolveGatewayURL returns the configured gateway address, browsing mDNS
// when none is set and discovery is enabled.
func (s *Services) resolveGatewayURL(ctx context.Context) (string, error) {
	addr := s.cfg.Gateway.Address
	if addr == "" {
		if !s.cfg.Gateway.Discover {
			return "", errors.New("no gateway address configured and discovery is disabled")
		}
		found, err := discovery.Discover(ctx, s.cfg.Gateway.Timeout.Duration())
		if err != nil {
			return "", fmt.Errorf("gateway discovery: %w", err)
		}
		addr = found
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return strings.TrimRight(addr, "/"), nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	if s.Scheduler != nil {
		s.Scheduler.Stop()
	}
	if s.Monitor != nil {
		s.Monitor.Stop()
	}
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Audio != nil {
		s.Audio.Close()
	}
	if s.MQTT != nil {
		s.MQTT.Close()
	}
	if s.Influx != nil {
		s.Influx.Close()
	}
	if s.Bus != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		s.Bus.Close(closeCtx)
		cancel()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}

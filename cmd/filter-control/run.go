package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/filter-control/internal/autosave"
	"github.com/sweeney/filter-control/internal/config"
	"github.com/sweeney/filter-control/internal/control"
	"github.com/sweeney/filter-control/internal/engine"
	"github.com/sweeney/filter-control/internal/gpio"
	"github.com/sweeney/filter-control/internal/history"
	"github.com/sweeney/filter-control/internal/ingest"
	"github.com/sweeney/filter-control/internal/metrics"
	"github.com/sweeney/filter-control/internal/motion"
	"github.com/sweeney/filter-control/internal/mqtt"
	"github.com/sweeney/filter-control/internal/status"
	"github.com/sweeney/filter-control/internal/web"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the attenuation controller",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfigWithEnv(cfgFile, envFile)
		if err != nil {
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		d := newDaemon()
		d.signals = sigCh
		return d.run(cfg, cfgFile)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// daemon holds the boundary constructors so tests can run the whole
// controller against fakes.
type daemon struct {
	dial       func(opts mqtt.Options) (mqtt.Client, error)
	controller func(cfg *config.Config) motion.Controller
	heartbeat  func(cfg *config.Config) (gpio.Output, error)
	signals    <-chan os.Signal
	now        func() time.Time
	tick       <-chan time.Time
}

func newDaemon() *daemon {
	return &daemon{
		dial: func(opts mqtt.Options) (mqtt.Client, error) {
			return mqtt.Dial(opts)
		},
		controller: func(cfg *config.Config) motion.Controller {
			return motion.NewPMAC(cfg.Motion.Address, cfg.Motion.DialTimeout)
		},
		heartbeat: func(cfg *config.Config) (gpio.Output, error) {
			if cfg.Heartbeat.GPIOLine == nil {
				return gpio.Nop{}, nil
			}
			return gpio.NewRealOutput(cfg.Heartbeat.GPIOChip, *cfg.Heartbeat.GPIOLine)
		},
		now: time.Now,
	}
}

func (d *daemon) run(fileCfg *config.Config, path string) error {
	cfg := fileCfg
	level := 0
	var saver *autosave.Saver
	if cfg.Autosave.Path != "" {
		saver = autosave.NewSaver(cfg.Autosave.Path)
		restored, l, err := restore(cfg, cfg.Autosave.Path)
		if err != nil {
			return err
		}
		cfg, level = restored, l
	}

	topics := mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix}
	tracker := status.NewTracker(d.now(), status.Config{
		Version:     Version,
		Broker:      cfg.MQTT.Broker,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		HTTPAddr:    cfg.HTTP.Addr,
		Motion:      cfg.Motion.Address,
		HeartbeatMs: cfg.Heartbeat.Interval.Milliseconds(),
	})
	tracker.SetClock(d.now)
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Control and status broker
	will, err := mqtt.FormatSystemPayload(mqtt.SystemEvent{Timestamp: d.now(), Event: "OFFLINE"})
	if err != nil {
		return fmt.Errorf("format will: %w", err)
	}
	client, err := d.dial(mqtt.Options{
		Broker:     cfg.MQTT.Broker,
		Will:       &mqtt.Message{Topic: topics.System(), Payload: will, QoS: 1, Retained: true},
		BufferSize: cfg.MQTT.BufferSize,
	})
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer client.Close()

	// Detector sources
	queue := ingest.NewQueue(cfg.QueueCapacity)
	enc, _ := ingest.ParseEncoding(cfg.Detector.Encoding)
	sub := ingest.NewSubscriber(queue, topics.Events(), enc, d.now)
	defer sub.Close()
	for _, ep := range cfg.Detector.Endpoints {
		c, err := d.dial(mqtt.Options{Broker: mqtt.BrokerURL(ep), BufferSize: 1})
		if err != nil {
			return fmt.Errorf("connect source %s: %w", ep, err)
		}
		if err := sub.Attach(ep, c); err != nil {
			c.Close()
			return err
		}
	}

	ctl := d.controller(cfg)
	defer ctl.Close()

	hb, err := d.heartbeat(cfg)
	if err != nil {
		return fmt.Errorf("init heartbeat gpio: %w", err)
	}
	defer hb.Close()

	collector := metrics.NewCollector(tracker.Snapshot)
	opts := engine.Options{
		Config:    cfg,
		Queue:     queue,
		Mover:     motion.NewSequencer(ctl, cfg.Timing(), cfg.ShutterTarget()),
		Tracker:   tracker,
		Publisher: client,
		Topics:    topics,
		Heartbeat: hb,
		Observer:  collector,
		Feed:      sub,
		Level:     level,
		Now:       d.now,
		Tick:      d.tick,
	}
	var store *history.Store
	if cfg.History.Path != "" {
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		opts.Recorder = store
	}
	if saver != nil {
		opts.Saver = saver
	}
	eng := engine.New(opts)

	ctrl := control.NewMQTTServer(control.NewServer(eng, collector), client, topics)
	if err := ctrl.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.HTTP.Addr != "" {
		webOpts := web.Options{Metrics: collector.Handler()}
		if store != nil {
			webOpts.History = store
		}
		srv := web.New(cfg.HTTP.Addr, tracker, webOpts)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	if saver != nil && cfg.Autosave.BackupSchedule != "" {
		backups := autosave.NewBackups(saver, cfg.Autosave.BackupDir, d.now)
		if err := backups.Start(cfg.Autosave.BackupSchedule); err != nil {
			return err
		}
		defer backups.Stop()
	}

	if path != "" {
		watchConfig(ctx, eng, fileCfg, path)
	}

	publishSystem(client, topics, tracker, "STARTUP", "")
	log.Printf("started: run=%s broker=%s sources=%d motion=%s",
		eng.RunID(), cfg.MQTT.Broker, len(cfg.Detector.Endpoints), cfg.Motion.Address)

	go eng.Run(ctx)

	reason := waitForExit(d.signals, eng.Done())
	cancel()
	<-eng.Done()
	ctrl.Wait()

	tracker.SetMQTTConnected(client.IsConnected())
	publishSystem(client, topics, tracker, "SHUTDOWN", reason)
	return nil
}

// restore applies the autosave file on top of cfg. An autosave that no
// longer fits the configuration is logged and ignored.
func restore(cfg *config.Config, path string) (*config.Config, int, error) {
	st, ok, err := autosave.Load(path)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return cfg, 0, nil
	}
	params, err := st.ConfigureParams()
	if err == nil {
		var up config.Update
		if up, err = config.Merge(cfg, params); err == nil {
			log.Printf("autosave: restored level=%d from %s (saved %s)",
				st.Attenuation, path, st.SavedAt.Format(time.RFC3339))
			return up.Config, st.Attenuation, nil
		}
	}
	log.Printf("autosave: ignoring %s: %v", path, err)
	return cfg, 0, nil
}

func watchConfig(ctx context.Context, eng *engine.Engine, current *config.Config, path string) {
	w, err := config.NewWatcher(path, envFile, config.DefaultDebounce)
	if err != nil {
		log.Printf("config: hot reload disabled: %v", err)
		return
	}
	var mu sync.Mutex
	go func() {
		err := w.Watch(ctx, func(next *config.Config) {
			mu.Lock()
			defer mu.Unlock()
			restart, err := engine.ApplyConfig(ctx, eng, current, next)
			if err != nil {
				log.Printf("config: reload rejected: %v", err)
				return
			}
			if len(restart) > 0 {
				log.Printf("config: changes to %v take effect after restart", restart)
			}
			current = next
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("config: watcher stopped: %v", err)
		}
	}()
}

// waitForExit blocks until a signal arrives or the engine stops by itself,
// and returns the shutdown reason.
func waitForExit(sig <-chan os.Signal, done <-chan struct{}) string {
	select {
	case s := <-sig:
		log.Printf("received %v, shutting down", s)
		return signalName(s)
	case <-done:
		return "COMMAND"
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

func publishSystem(client mqtt.Client, topics mqtt.Topics, tracker *status.Tracker, event, reason string) {
	payload := status.FormatStatusEvent(tracker.Snapshot(), event, reason)
	if err := client.Publish(topics.System(), 1, true, payload); err != nil {
		log.Printf("failed to publish %s event: %v", event, err)
		return
	}
	log.Printf("published %s event", event)
}

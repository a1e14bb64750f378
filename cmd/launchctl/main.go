package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"launchctl/pkg/api"
	"launchctl/pkg/config"
	"launchctl/pkg/motion"
	"launchctl/pkg/session"
	"launchctl/pkg/store"
	"launchctl/pkg/transport"
	"launchctl/pkg/transport/mqttlink"
	"launchctl/templates"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	bolt "go.etcd.io/bbolt"
)

const simulatorLatency = 50 * time.Millisecond

// loadConfig resolves the configuration: flags over the YAML file over the
// stored config over the defaults.
func loadConfig(c *cli.Context, st *store.Store) (*config.Config, error) {
	cfg, err := st.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to read stored config: %v", err)
	}

	if path := c.String("config"); path != "" {
		if cfg, err = config.LoadOver(cfg, path); err != nil {
			return nil, err
		}
	}

	texts := map[string]*string{
		"transport":  &cfg.Transport,
		"target":     &cfg.Session.TargetName,
		"mqtt-host":  &cfg.MQTT.Host,
		"mqtt-user":  &cfg.MQTT.Username,
		"mqtt-pass":  &cfg.MQTT.Password,
		"mqtt-topic": &cfg.MQTT.TopicRoot,
	}
	for flag, dst := range texts {
		if c.IsSet(flag) {
			*dst = c.String(flag)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mqttOptions(cfg *config.Config) mqttlink.Options {
	return mqttlink.Options{
		Broker:     cfg.MQTT.Host,
		Username:   cfg.MQTT.Username,
		Password:   cfg.MQTT.Password,
		TopicRoot:  cfg.MQTT.TopicRoot,
		ClientName: cfg.Session.ClientName,
		ServerName: cfg.Session.ServerName,
		MaxPing:    cfg.MaxPing(),
	}
}

func newTransport(cfg *config.Config) (transport.Transport, func()) {
	switch cfg.Transport {
	case config.TransportMQTT:
		return mqttlink.NewClient(mqttOptions(cfg), log.WithField("component", "mqtt")), func() {}
	default:
		sim := transport.NewSimulator([]transport.SimulatedDevice{
			{ID: 0, Name: cfg.Session.TargetName},
		}, simulatorLatency, log.WithField("component", "simulator"))
		return sim, sim.Close
	}
}

// watchStatus prints status changes and, when autoLoop is set, starts the
// oscillation loop every time the device connects.
func watchStatus(ctx context.Context, sess *session.Session, looper *motion.Looper, autoLoop bool) {
	for st := range sess.Watch(ctx) {
		switch st {
		case session.StatusConnected:
			target, _ := sess.Target()
			color.Green("● %s [%d] %s", st, target.ID, target.Name)
			if autoLoop && !looper.Running() {
				looper.Start(ctx)
			}
		case session.StatusError:
			color.Red("● %s: %s", st, sess.LastError())
		default:
			color.Yellow("● %s", st)
		}
	}
}

func run(c *cli.Context) error {
	if c.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	log.Info("Launch Control Server")

	tmpl, err := templates.LoadTemplates()
	if err != nil {
		return fmt.Errorf("failed to load templates: %v", err)
	}

	db, err := bolt.Open(c.String("db"), 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to open database: %v", err)
	}
	defer db.Close()

	st, err := store.NewStore(db)
	if err != nil {
		return fmt.Errorf("failed to create store: %v", err)
	}

	cfg, err := loadConfig(c, st)
	if err != nil {
		return err
	}

	tr, closeTransport := newTransport(cfg)
	defer closeTransport()

	sess := session.Shared(func() *session.Session {
		return session.New(tr, cfg.Session.TargetName, log.WithField("component", "session"))
	})
	defer sess.Close()

	ctrl := motion.NewController(sess, log.WithField("component", "motion"))
	looper := motion.NewLooper(ctrl, motion.LoopConfig{
		StrokeDuration: cfg.StrokeDuration(),
		Up:             cfg.Loop.UpPosition,
		Down:           cfg.Loop.DownPosition,
	}, log.WithField("component", "loop"))
	defer looper.Stop()

	// Channel to listen for interrupt or terminate signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	if c.Bool("publish-status") {
		client, err := mqttlink.Dial(mqttOptions(cfg), "status")
		if err != nil {
			return err
		}
		defer client.Disconnect(250)

		publisher := mqttlink.NewStatusPublisher(client, cfg.MQTT.TopicRoot, log.WithField("component", "status"))
		id := sess.AddObserver(publisher.Observe)
		defer sess.RemoveObserver(id)

		wg.Add(1)
		go func() {
			publisher.Run(ctx)
			wg.Done()
		}()
	}

	wg.Add(1)
	go func() {
		watchStatus(ctx, sess, looper, c.Bool("loop"))
		wg.Done()
	}()

	server := api.NewServer(ctx, api.Components{
		Session:            sess,
		Controller:         ctrl,
		Looper:             looper,
		Store:              st,
		MinCommandInterval: cfg.MinCommandInterval(),
	}, tmpl, log.WithField("component", "api"))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", c.Int("port")),
		Handler: server.AddRoutes(),
	}

	wg.Add(1)
	go func() {
		log.Debugf("Server started on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", srv.Addr, err)
		}
		wg.Done()
	}()

	if port := c.Int("discovery-port"); port > 0 {
		dr := api.NewDiscoveryResponder("0.0.0.0", port, c.Int("port"), log.WithField("component", "discovery"))

		wg.Add(1)
		go func() {
			if err := dr.Run(ctx); err != nil {
				log.Errorf("Discovery responder failed: %v", err)
			}
			wg.Done()
			log.Debug("Discovery responder stopped")
		}()
	}

	sess.Start()

	<-ctx.Done()

	log.Info("Shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx2); err != nil {
		return fmt.Errorf("server forced to shutdown: %v", err)
	}

	wg.Wait()
	log.Info("Server stopped")
	return nil
}

func main() {
	app := cli.App{
		Name:  "launchctl",
		Usage: "Connect to a Fleshlight Launch through a control server and drive it over HTTP",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				Value:   false,
				EnvVars: []string{"DEBUG"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on",
				Value:   8090,
				EnvVars: []string{"LAUNCHCTL_PORT"},
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "Path of the settings database",
				Value:   "launchctl.db",
				EnvVars: []string{"LAUNCHCTL_DB"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file applied over the stored settings",
				EnvVars: []string{"LAUNCHCTL_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "transport",
				Usage:   "Control server transport: simulator or mqtt",
				EnvVars: []string{"LAUNCHCTL_TRANSPORT"},
			},
			&cli.StringFlag{
				Name:    "target",
				Usage:   "Name of the device to drive",
				EnvVars: []string{"LAUNCHCTL_TARGET"},
			},
			&cli.StringFlag{
				Name:    "mqtt-host",
				Usage:   "MQTT broker URL",
				EnvVars: []string{"MQTT_HOST"},
			},
			&cli.StringFlag{
				Name:    "mqtt-user",
				Usage:   "MQTT username",
				EnvVars: []string{"MQTT_USER"},
			},
			&cli.StringFlag{
				Name:    "mqtt-pass",
				Usage:   "MQTT password",
				EnvVars: []string{"MQTT_PASS"},
			},
			&cli.StringFlag{
				Name:    "mqtt-topic",
				Usage:   "MQTT topic root",
				EnvVars: []string{"MQTT_TOPIC"},
			},
			&cli.BoolFlag{
				Name:    "publish-status",
				Usage:   "Publish the session status to <topic root>/status",
				EnvVars: []string{"LAUNCHCTL_PUBLISH_STATUS"},
			},
			&cli.BoolFlag{
				Name:    "loop",
				Aliases: []string{"l"},
				Usage:   "Start the oscillation loop whenever the device connects",
				EnvVars: []string{"LAUNCHCTL_LOOP"},
			},
			&cli.IntFlag{
				Name:    "discovery-port",
				Usage:   "UDP port answering discovery requests, 0 disables",
				Value:   api.DefaultDiscoveryPort,
				EnvVars: []string{"LAUNCHCTL_DISCOVERY_PORT"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/mohamedbeat/yeet/config"
	"github.com/mohamedbeat/yeet/logger"
	"github.com/mohamedbeat/yeet/metrics"
	"github.com/mohamedbeat/yeet/proxy"
	"github.com/mohamedbeat/yeet/redirect"
	"github.com/mohamedbeat/yeet/trigger"
)

const shutdownTimeout = 10 * time.Second

func newApp() *cli.App {
	return &cli.App{
		Name:  "yeet",
		Usage: "send pages through " + redirect.Endpoint,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to YAML config file",
				EnvVars: []string{"YEET_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			proxyCommand(),
			openCommand(),
			checkCommand(),
		},
	}
}

func proxyCommand() *cli.Command {
	return &cli.Command{
		Name:  "proxy",
		Usage: "run the intercepting forward proxy",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Aliases: []string{"l"}, Usage: "proxy listen address"},
			&cli.StringFlag{Name: "engine", Usage: "proxy engine: native or goproxy"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadProxyConfig(c.String("config"), c.String("listen"), c.String("engine"))
			if err != nil {
				return err
			}

			logg, err := logger.InitLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer logg.Sync()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runProxy(ctx, cfg, logg)
		},
	}
}

// loadProxyConfig loads path and applies non-empty flag overrides, which go
// through the same normalization as file values.
func loadProxyConfig(path, listen, engine string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if listen = strings.TrimSpace(listen); listen != "" {
		cfg.Proxy.Listen = listen
	}
	if engine != "" {
		cfg.Proxy.Engine = engine
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runProxy(ctx context.Context, cfg *config.Config, logg *zap.Logger) error {
	rec, err := metrics.NewRecorder()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	var ca *tls.Certificate
	if cfg.Proxy.MITM.Enabled {
		if ca, err = proxy.LoadRootCA(cfg.Proxy.MITM.Cert, cfg.Proxy.MITM.Key); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	switch cfg.Proxy.Engine {
	case config.EngineGoproxy:
		server := &http.Server{
			Addr:              cfg.Proxy.Listen,
			Handler:           proxy.NewGoproxy(logg, ca, rec),
			ReadHeaderTimeout: cfg.Proxy.Timeout,
		}
		g.Go(func() error {
			logg.Info("Proxy server started", zap.String("addr", server.Addr), zap.String("engine", cfg.Proxy.Engine))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("proxy: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return shutdown(server.Shutdown)
		})

	default:
		opts := []proxy.Option{
			proxy.WithTimeout(cfg.Proxy.Timeout),
			proxy.WithObserver(rec),
		}
		if ca != nil {
			opts = append(opts, proxy.WithRootCA(ca))
		}

		p := proxy.New(logg, opts...)
		ln, err := net.Listen("tcp", cfg.Proxy.Listen)
		if err != nil {
			return fmt.Errorf("proxy: %w", err)
		}
		g.Go(func() error { return p.Serve(ln) })
		g.Go(func() error {
			<-ctx.Done()
			return shutdown(p.Shutdown)
		})
	}

	if cfg.Admin.Enabled {
		admin := metrics.NewServer(cfg.Admin.Listen, rec, logg)
		g.Go(admin.ListenAndServe)
		g.Go(func() error {
			<-ctx.Done()
			return shutdown(admin.Shutdown)
		})
	}

	err = g.Wait()
	logg.Info("Shut down", zap.Error(err))
	return err
}

func shutdown(fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return fn(ctx)
}

func openCommand() *cli.Command {
	return &cli.Command{
		Name:      "open",
		Usage:     "open the given tab URL through the endpoint in a new browser tab",
		ArgsUsage: "<url>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "print", Aliases: []string{"p"}, Usage: "print the target instead of opening it"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("open takes exactly one URL")
			}

			var opener trigger.Opener = trigger.BrowserOpener{}
			if c.Bool("print") {
				opener = trigger.WriterOpener{W: c.App.Writer}
			}

			logg := commandLogger(c)
			defer logg.Sync()

			_, err := trigger.New(trigger.StaticTab(c.Args().First()), opener, logg).Fire(c.Context)
			return err
		},
	}
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "show what the interceptor decides for each URL",
		ArgsUsage: "<url>...",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return errors.New("check takes at least one URL")
			}
			for _, raw := range c.Args().Slice() {
				d := redirect.Intercept(raw)
				fmt.Fprintf(c.App.Writer, "%s\t%s", logger.Outcome(d.Outcome.String()), raw)
				if d.Redirect() {
					fmt.Fprintf(c.App.Writer, "\t%d %s", d.Status, d.Location)
				}
				fmt.Fprintln(c.App.Writer)
			}
			return nil
		},
	}
}

// commandLogger logs one-shot commands to stderr so stdout stays clean.
// A config that fails to load is reported and the defaults are used.
func commandLogger(c *cli.Context) *zap.Logger {
	level := zapcore.InfoLevel
	cfg, err := config.Load(c.String("config"))
	if err == nil {
		err = level.UnmarshalText([]byte(cfg.Log.Level))
	}

	logg := logger.NewWriterLogger(c.App.ErrWriter, level)
	if err != nil {
		logg.Warn("Ignoring config, using default logging", zap.Error(err))
	}
	return logg
}

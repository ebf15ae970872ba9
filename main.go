package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/solar3s/rfnode/gateway"
	"github.com/solar3s/rfnode/radio"
	"github.com/solar3s/rfnode/store"
	"github.com/solar3s/rfnode/web"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "dev"

var rootConfig *web.Config

var (
	device   = flag.String("dev", "", "path to serial port, if empty it will be searched automatically")
	rootPath = flag.String("root", "", "path to rfnode's main directory (defaults to executable path)")
	cfgPath  = flag.String("config", "", "path to config, .toml or .yaml (defaults to <root>/config.toml)")
	verbose  = flag.Bool("v", false, "higher verbosity")
	version  = flag.Bool("version", false, "print version & exit")
)

func init() {
	flag.Parse()

	// print version & exit
	if *version {
		fmt.Printf("rfnode %s\n", Version)
		os.Exit(0)
	}

	if *rootPath == "" {
		exe, err := os.Executable()
		if err != nil {
			log.Fatalf("couldn't get path to executable: %s", err)
		}
		*rootPath = filepath.Dir(exe)
	}
	if err := os.MkdirAll(*rootPath, 0755); err != nil {
		log.Fatalf("couldn't mkdir \"%s\": %s", *rootPath, err)
	}

	if *cfgPath == "" {
		*cfgPath = filepath.Join(*rootPath, "config.toml")
	}

	var err error
	rootConfig, err = web.LoadConfig(*cfgPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("error reading config \"%s\": %s", *cfgPath, err)
		}
		cfg := web.DefaultConfig
		rootConfig = &cfg
		if err = web.SaveConfig(rootConfig, *cfgPath); err != nil {
			log.Fatalf("error creating config \"%s\": %s", *cfgPath, err)
		}
		log.Printf("created new config file \"%s\"", *cfgPath)
	}

	if *verbose {
		rootConfig.Web.Verbose = true
		rootConfig.Log.Level = "debug"
	}
	if *device != "" {
		rootConfig.Device = *device
	}
}

func inRoot(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(*rootPath, p)
}

// newLogger writes json to the rotated log file and a console rendition
// to stderr.
func newLogger(cfg web.LogConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level),
	}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   inRoot(cfg.File),
			MaxSize:    cfg.MaxSizeMB,
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), level))
	}
	return zap.New(zapcore.NewTee(cores...)), nil
}

func main() {
	logger, err := newLogger(rootConfig.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()
	logger.Info("using config file", zap.String("path", *cfgPath), zap.String("version", Version))

	var db *store.DB
	if rootConfig.Store.Path != "" {
		db, err = store.Open(inRoot(rootConfig.Store.Path))
		if err == nil {
			err = store.Migrate(db)
		}
		if err != nil {
			logger.Fatal("opening event store", zap.Error(err))
		}
		if rootConfig.Store.Keep > 0 {
			n, err := db.Prune(context.Background(), rootConfig.Store.Keep)
			if err != nil {
				logger.Warn("pruning event store", zap.Error(err))
			} else if n > 0 {
				logger.Info("pruned event store", zap.Int64("deleted", n))
			}
		}
	}

	opts := []gateway.Option{gateway.WithLogger(logger.Named("gateway"))}
	if db != nil {
		opts = append(opts, gateway.WithSink(db))
	}
	gw := gateway.New(rootConfig.Gateway, nil, opts...)

	bopts := []radio.BridgeOption{
		radio.WithBridgeLogger(logger.Named("bridge")),
		radio.OnReceive(gw.Wake),
	}
	find := func() (gateway.Link, error) {
		var (
			b   *radio.Bridge
			err error
		)
		if rootConfig.Device != "" {
			b, err = radio.OpenBridge(rootConfig.Device, &rootConfig.Serial, bopts...)
		} else {
			b, err = radio.FindBridge(&rootConfig.Serial, bopts...)
		}
		if err != nil {
			return nil, err
		}
		return b, nil
	}

	if l, err := find(); err != nil {
		logger.Warn("no bridge yet, the watcher keeps looking", zap.Error(err))
	} else {
		if _, _, err := l.Ping(); err != nil {
			logger.Warn("no response from bridge", zap.String("device", l.Path()), zap.Error(err))
		}
		gw.Connect(l)
		logger.Info("connected", zap.String("device", l.Path()), zap.String("version", l.Version()))
	}

	logger.Info("starting conn watcher", zap.Duration("pollrate", time.Duration(rootConfig.Watcher.ConnPollRate)))
	watcher := gateway.NewWatcher(gw, &rootConfig.Watcher, find)
	watcher.WatchConn()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := gw.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("gateway stopped", zap.Error(err))
			stop()
		}
	}()

	srv := web.NewServer(Version, gw, db, rootConfig, inRoot(rootConfig.Web.LogDir), logger.Named("web"))
	logger.Info("starting webserver", zap.String("url", "http://"+rootConfig.Web.ListenAddr))
	go func() {
		if err := srv.ListenAndServe(ctx); err != nil {
			logger.Error("webserver", zap.Error(err))
			stop()
		}
	}()
	logger.Info("Press <Ctrl-C> to quit")

	<-ctx.Done()
	logger.Info("quit received...")

	cleanExit := make(chan struct{})
	go func() {
		watcher.Stop()
		if err := gw.Close(); err != nil {
			logger.Warn("closing bridge", zap.Error(err))
		}
		if db != nil {
			db.Close()
		}
		close(cleanExit)
	}()
	select {
	case <-time.After(time.Second * 10):
		logger.Panic("no clean exit after 10sec")
	case <-cleanExit:
	}
}

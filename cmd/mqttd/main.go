package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/kardianos/service"
	"github.com/rs/zerolog"

	"github.com/zer0mqtt/mqttd"
	"github.com/zer0mqtt/mqttd/config"
)

type program struct {
	configFlag string
	execDir    string
	logOutput  io.Writer
	console    bool

	server      *mqttd.Server
	stopMetrics context.CancelFunc
	wg          sync.WaitGroup
}

func (p *program) loadConfig() (*config.Config, string, error) {
	path := p.configFlag
	if path == "" {
		toTry := filepath.Join(p.execDir, "mqttd.yaml")
		if !fileExists(toTry) {
			return config.Default(), "", nil
		}
		path = toTry
	}

	cfg, err := config.Load(path)
	return cfg, path, err
}

func (p *program) Start(_ service.Service) error {
	cfg, path, err := p.loadConfig()
	if err != nil {
		return err
	}
	if p.console {
		cfg.Logging.Format = config.FormatConsole
	}

	logger, err := cfg.Logger(p.logOutput)
	if err != nil {
		return err
	}
	if path != "" {
		logger.Info("using config file", mqttd.LogFields{"path": path})
	} else {
		logger.Info("no config file specified or found, using defaults", nil)
	}

	opts, err := cfg.ServerOptions(logger)
	if err != nil {
		return err
	}

	listeners, err := cfg.OpenListeners()
	if err != nil {
		return err
	}

	metrics := mqttd.NewMemoryMetrics()
	opts = append(opts, mqttd.WithMetrics(metrics))

	p.server = mqttd.NewServer(opts...)

	if cfg.Metrics.LogInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		p.stopMetrics = cancel
		p.wg.Go(func() {
			metrics.LogSnapshots(ctx, logger, cfg.Metrics.LogInterval)
		})
	}

	for _, l := range listeners {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := p.server.Serve(l); err != nil && !errors.Is(err, mqttd.ErrServerClosed) {
				logger.Error("listener stopped", mqttd.LogFields{
					"address":           l.Addr().String(),
					mqttd.LogFieldError: err.Error(),
				})
			}
		}()
	}

	return nil
}

func (p *program) Stop(_ service.Service) error {
	if p.server == nil {
		return nil
	}
	err := p.server.Close()
	if p.stopMetrics != nil {
		p.stopMetrics()
	}
	p.wg.Wait()
	return err
}

func main() {
	svcFlag := flag.String("service", "", "Control the system service.")
	cnfFlag := flag.String("c", "", "Path of config file.")
	flag.Parse()

	bootLog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	ePath, err := os.Executable()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("cannot locate executable")
	}
	eDir := filepath.Dir(ePath)

	prg := &program{configFlag: *cnfFlag, execDir: eDir, logOutput: os.Stderr}
	if service.Interactive() {
		prg.console = true
	} else {
		f, err := os.OpenFile(filepath.Join(eDir, "mqttd.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			bootLog.Fatal().Err(err).Msg("cannot open log file")
		}
		defer f.Close()
		prg.logOutput = f
	}

	svcConfig := service.Config{
		Name:        "mqttd",
		DisplayName: "mqttd MQTT server",
		Description: "MQTT 3.1.1 server.",
	}
	if *cnfFlag != "" {
		abs, err := filepath.Abs(*cnfFlag)
		if err != nil {
			bootLog.Fatal().Err(err).Msg("invalid config path")
		}
		svcConfig.Arguments = []string{"-c", abs}
	}

	s, err := service.New(prg, &svcConfig)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("cannot create service")
	}

	if *svcFlag != "" {
		if err := service.Control(s, *svcFlag); err != nil {
			fmt.Fprintf(os.Stderr, "Valid actions: %q\n", service.ControlAction)
			bootLog.Fatal().Err(err).Msg("service control failed")
		}
		return
	}

	if err := s.Run(); err != nil {
		bootLog.Fatal().Err(err).Msg("service stopped")
	}
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

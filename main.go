package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vimeo/dials"
	"github.com/vimeo/dials/sources/env"
	"github.com/vimeo/dials/sources/flag"
	"gopkg.in/yaml.v3"

	"github.com/kc2g-flex-tools/flexdv/audio"
	"github.com/kc2g-flex-tools/flexdv/control"
	"github.com/kc2g-flex-tools/flexdv/events"
	"github.com/kc2g-flex-tools/flexdv/logging"
	"github.com/kc2g-flex-tools/flexdv/persistence"
	"github.com/kc2g-flex-tools/flexdv/radio"
	"github.com/kc2g-flex-tools/flexdv/realtime"
	"github.com/kc2g-flex-tools/flexdv/stream"
)

type Config struct {
	RememberRadio bool          `dialsdesc:"Remember the last radio and fall back to it when discovery is quiet"`
	ModemInterval time.Duration `dialsdesc:"How often the passthrough modem moves audio between FIFOs"`
	FIFOSamples   int           `dialsdesc:"Capacity of each audio FIFO in samples"`
	Radio         *radio.Config
	Control       *control.Config
	Stream        *stream.Config
	Logging       *logging.Config
}

var config *Config

func defaultConfig() *Config {
	return &Config{
		RememberRadio: true,
		ModemInterval: 20 * time.Millisecond,
		FIFOSamples:   audio.DefaultFIFOSamples,
		Radio:         radio.DefaultConfig(),
		Control:       control.DefaultConfig(),
		Stream:        stream.DefaultConfig(),
		Logging:       logging.DefaultConfig(),
	}
}

// loadFile decodes a YAML config file over cfg.
func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func main() {
	mainCtx, mainCancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer mainCancel()

	config = defaultConfig()
	if path := os.Getenv("FLEXDV_CONFIG"); path != "" {
		if err := loadFile(path, config); err != nil {
			fmt.Fprintln(os.Stderr, "config file:", err)
			os.Exit(1)
		}
	}
	if addr := os.Getenv("SSDR_RADIO_ADDRESS"); addr != "" {
		config.Radio.Address = addr
	}

	flagSrc, err := flag.NewCmdLineSet(flag.DefaultFlagNameConfig(), config)
	if err != nil {
		panic(err)
	}
	d, err := dials.Config(mainCtx, config, &env.Source{}, flagSrc)
	if err != nil {
		panic(err)
	}
	config = d.View()

	logger, logCloser, err := logging.New(config.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	bus := events.NewBus()
	fifos := audio.NewQueues(config.FIFOSamples)

	var rt realtime.Helper = realtime.Noop{}
	if config.Stream.RealtimePriority > 0 {
		rt = realtime.NewScheduler(config.Stream.RealtimePriority)
	}
	vita, err := stream.New(config.Stream, fifos, bus, rt, logger)
	if err != nil {
		logger.Fatal("could not open audio sockets", "err", err)
	}

	var store *persistence.RadioStore
	if config.RememberRadio {
		if store, err = persistence.NewRadioStore(); err != nil {
			logger.Warn("radio address will not be remembered", "err", err)
			store = nil
		}
	}

	host := radio.NewState(config.Radio, config.Control, bus, vita, store, logger)

	modem := audio.NewPassthrough(fifos, config.ModemInterval, logger)
	if config.Control.SNRMeter {
		modem.OnRxLevel = host.ReportSNR
	}

	vita.Start()
	go modem.Run(mainCtx)

	logger.Info("flexdv started", "audio_port", vita.Port())
	if err := host.Run(mainCtx); err != nil {
		logger.Error("radio host stopped", "err", err)
	}

	vita.Stop()
	bus.Close()
	logger.Info("flexdv stopped")
}

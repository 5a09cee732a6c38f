// flexdiscover listens for FlexRadio discovery broadcasts and prints each
// radio it hears once.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/kc2g-flex-tools/flexdv/audio"
	"github.com/kc2g-flex-tools/flexdv/events"
	"github.com/kc2g-flex-tools/flexdv/realtime"
	"github.com/kc2g-flex-tools/flexdv/stream"
)

func main() {
	timeout := pflag.DurationP("timeout", "t", 10*time.Second, "How long to listen.")
	port := pflag.IntP("port", "p", stream.DiscoveryPort, "Discovery UDP port.")
	verbose := pflag.BoolP("verbose", "v", false, "Log socket activity to stderr.")
	help := pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	logger := log.New(io.Discard)
	if *verbose {
		logger = log.NewWithOptions(os.Stderr, log.Options{Level: log.DebugLevel, ReportTimestamp: true})
	}

	cfg := stream.DefaultConfig()
	cfg.DiscoveryPort = *port
	bus := events.NewBus()
	found := bus.Subscribe(16)

	task, err := stream.New(cfg, audio.NewQueues(stream.MaxSamplesPerPacket), bus, realtime.Noop{}, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	task.Start()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	seen := map[string]bool{}
	go func() {
		<-ctx.Done()
		task.Stop()
		bus.Close()
	}()
	for e := range found {
		r, ok := e.(events.RadioDiscovered)
		if !ok || seen[r.IP] {
			continue
		}
		seen[r.IP] = true
		fmt.Printf("%s\t%s\n", r.Name, r.IP)
	}
	if len(seen) == 0 {
		os.Exit(1)
	}
}

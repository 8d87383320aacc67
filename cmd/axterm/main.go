// Command axterm is the CLI entry point wiring a KissLink transport, the
// transmission runtime actor, and the AX.25/AXDP/bulk/scheduler stack
// together. Flag handling is modeled directly on
// doismellburning-samoyed/src/kissutil.go's pflag wiring.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/minorsecond/AXTerm-sub008/internal/ax25"
	"github.com/minorsecond/AXTerm-sub008/internal/buildinfo"
	"github.com/minorsecond/AXTerm-sub008/internal/config"
	"github.com/minorsecond/AXTerm-sub008/internal/kisslink"
	"github.com/minorsecond/AXTerm-sub008/internal/runtime"
)

func main() {
	hostname := pflag.StringP("hostname", "h", "localhost", "Hostname of TCP KISS TNC")
	port := pflag.StringP("port", "p", "8001", "TCP port, or serial device path if --serial is set")
	serial := pflag.BoolP("serial", "s", false, "Treat --port as a serial device path instead of host:port")
	serialSpeed := pflag.IntP("serial-speed", "b", 9600, "Serial port speed")
	callsign := pflag.StringP("callsign", "c", "N0CALL", "Our station callsign")
	ssid := pflag.Uint8P("ssid", "S", 0, "Our station SSID")
	configPath := pflag.StringP("config", "f", "axterm.yaml", "Path to YAML configuration file")
	verbose := pflag.BoolP("verbose", "v", false, "Verbose logging")
	version := pflag.Bool("version", false, "Print version and exit")
	help := pflag.Bool("help", false, "Display help text")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - connected-mode AX.25 terminal over a KISS TNC.\n", os.Args[0])
		fmt.Fprintln(os.Stderr)
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	if *version {
		fmt.Println(buildinfo.String())
		os.Exit(0)
	}

	logger := log.New(os.Stderr)
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}

	self, err := ax25.NewAddress(*callsign, *ssid)
	if err != nil {
		logger.Fatal("invalid callsign/ssid", "err", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("loading config", "err", err)
	}

	delegate := &linkDelegate{logger: logger}
	link := openLink(*hostname, *port, *serial, *serialSpeed, delegate)

	actor := runtime.NewActor(self, link, cfg, logger)
	delegate.events = actor.Events()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := link.Open(ctx); err != nil {
		logger.Fatal("opening link", "err", err)
	}
	defer link.Close()

	go actor.Run()
	defer actor.Stop()

	logger.Info(buildinfo.String())

	<-ctx.Done()
}

// linkDelegate forwards Link callbacks into the actor's event channel.
// events is nil until the actor exists; main wires it in before Open is
// called, so no callback is lost once the link is live.
type linkDelegate struct {
	events chan<- runtime.Event
	logger *log.Logger
}

func (d *linkDelegate) DidReceive(data []byte) {
	if d.events != nil {
		d.events <- runtime.Event{Kind: runtime.EventLinkReceived, RawFrame: data}
	}
}

func (d *linkDelegate) StateChanged(s kisslink.State) {
	if d.events != nil {
		d.events <- runtime.Event{Kind: runtime.EventLinkStateChanged, State: s}
	}
}

func (d *linkDelegate) Error(msg string) {
	if d.events != nil {
		d.events <- runtime.Event{Kind: runtime.EventLinkError, ErrorMsg: msg}
	}
}

func openLink(hostname, port string, isSerial bool, serialSpeed int, delegate kisslink.Delegate) kisslink.Link {
	if isSerial {
		return kisslink.NewSerialLink(port, serialSpeed, delegate)
	}

	return kisslink.NewTCPLink(hostname+":"+port, delegate)
}

// Command detectdump prints every detection datagram received on a UDP
// address together with the tracking latch state it produces.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aerofleet/swarmctl/internal/detection"
	"github.com/aerofleet/swarmctl/internal/logging"
	"github.com/rs/zerolog"
)

func main() {
	listen := flag.String("listen", "127.0.0.1:9999", "UDP address to listen on")
	level := flag.String("level", "info", "log level")
	flag.Parse()

	slogManager := logging.NewSlogManager()
	slogManager.Setup(nil, *level, nil)
	logger := slogManager.Logger()

	out := logging.NewProcessLogger(os.Stdout, nil, "debug")

	listener, err := detection.NewListener(detection.ListenerConfig{
		Address:     *listen,
		ReadTimeout: 50 * time.Millisecond,
		Tracker:     detection.NewTracker(),
		Logger:      logger,
		OnUpdate: func(m detection.Message, snap detection.Snapshot, activated bool) {
			dump(out, m, snap, activated)
		},
	})
	if err != nil {
		logger.Error("Failed to create detection listener", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := listener.Run(ctx); err != nil {
		logger.Error("Detection listener failed", "error", err, "address", *listen)
		os.Exit(1)
	}
}

func dump(out zerolog.Logger, m detection.Message, snap detection.Snapshot, activated bool) {
	ev := out.Info().
		Bool("detected", m.Detected).
		Bool("valid", m.Valid()).
		Bool("tracking", snap.Active).
		Bool("activated", activated).
		Bools("window", snap.Window)
	if m.Valid() {
		x, y := m.Pixel()
		ev = ev.Float64("x", x).Float64("y", y)
	}
	ev.Msg("detection")
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/vigil-edge/vigil/internal/edge"
	"github.com/vigil-edge/vigil/internal/observability"
)

func main() {
	path := "vigil-edge.toml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	log := observability.InitLogger("vigil-edge")
	observability.RegisterMetrics()

	cfg, framesDir, err := loadServiceConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vigil-edge: %v\n", err)
		os.Exit(1)
	}

	source, err := newJPEGDirSource(framesDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vigil-edge: %v\n", err)
		os.Exit(1)
	}

	svc, err := edge.NewService(cfg, source, logIndicator{log}, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vigil-edge: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "vigil-edge: %v\n", err)
		os.Exit(1)
	}
}

// logIndicator is the local alarm surface. A hardware build swaps in a
// buzzer/LED driver behind the same interface.
type logIndicator struct {
	log zerolog.Logger
}

func (i logIndicator) Apply(raised []string) {
	if len(raised) == 0 {
		i.log.Info().Msg("local alarm off")
		return
	}
	i.log.Warn().Strs("raised", raised).Msg("local alarm on")
}

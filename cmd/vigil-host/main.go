package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vigil-edge/vigil/internal/alarm"
	"github.com/vigil-edge/vigil/internal/host"
	"github.com/vigil-edge/vigil/internal/observability"
)

func main() {
	path := "vigil-host.toml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	log := observability.InitLogger("vigil-host")
	observability.RegisterMetrics()

	cfg, lmCfg, err := loadServiceConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vigil-host: %v\n", err)
		os.Exit(1)
	}

	landmarker, err := newExecLandmarker(lmCfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vigil-host: %v\n", err)
		os.Exit(1)
	}
	defer landmarker.Close()

	svc, err := host.NewService(cfg, landmarker, []alarm.Sink{alarm.LogSink{Log: log}}, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vigil-host: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "vigil-host: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/halvarsen/torrentcore/internal/config"
	"github.com/halvarsen/torrentcore/internal/corelog"
	"github.com/halvarsen/torrentcore/internal/metadata"
	"github.com/halvarsen/torrentcore/internal/supervisor"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <path-to-torrent-file> <destination-dir>\n", os.Args[0])
		os.Exit(1)
	}

	torrentPath := os.Args[1]
	destDir := os.Args[2]

	log := corelog.New()
	defer log.Sync()

	info, err := metadata.Load(torrentPath, destDir)
	if err != nil {
		log.Error("failed to load torrent metadata", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New(info, destDir, config.Default(), log)
	if err := sup.Run(ctx); err != nil {
		log.Error("download ended with an error", zap.Error(err))
		os.Exit(1)
	}

	log.Info("download finished")
}

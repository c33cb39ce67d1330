package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	chaosmagnet "github.com/JupitersGhost/ChaosMagnet"
)

// Consumes outbound entropy frames in-process, e.g. to feed a local seeding
// daemon, without going through the HTTP uplink.
func main() {
	tap, frames, closeTap := chaosmagnet.NewChannelTap(32)
	defer closeTap()

	go func() {
		for f := range frames {
			fmt.Printf("frame seq=%d health=%s shannon=%.2f payload=%s...\n",
				f.Seq, f.Health, f.RawShannon, f.PayloadHex[:16])
		}
	}()

	rt, err := chaosmagnet.Conf("../../data/config.yaml", chaosmagnet.WithFrameTap(tap))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Run(ctx); err != nil {
		log.Fatalf("runtime error: %v", err)
	}
}

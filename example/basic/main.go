package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	chaosmagnet "github.com/JupitersGhost/ChaosMagnet"
)

func main() {
	rt, err := chaosmagnet.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Run(ctx); err != nil {
		log.Fatalf("runtime error: %v", err)
	}
}

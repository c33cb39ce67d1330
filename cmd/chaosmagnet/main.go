package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	chaosmagnet "github.com/JupitersGhost/ChaosMagnet"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "mint":
		err = mintCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("chaosmagnet %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to node configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rt, err := chaosmagnet.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return rt.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := chaosmagnet.LoadConfig(*cfgPath); err != nil {
		return err
	}
	fmt.Printf("config %s looks good\n", *cfgPath)
	return nil
}

// mintCommand brings up a node, waits until the entropy floor is met, mints
// one bundle, and shuts down. Useful for provisioning keys on machines that
// do not run the daemon permanently.
func mintCommand(args []string) error {
	fs := flag.NewFlagSet("mint", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to node configuration file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Give up if the entropy floor is not met in time")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rt, err := chaosmagnet.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := rt.Start(); err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deadline := time.After(*timeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("interrupted")
		case <-deadline:
			snap := rt.Engine().Snapshot()
			return fmt.Errorf("entropy floor not met within %s (have %.1f bits)",
				*timeout, snap.AggregateConservativeBits())
		case <-ticker.C:
			bundle, path, err := rt.Engine().RequestMint()
			if err != nil {
				if mintRetryable(err) {
					continue
				}
				return fmt.Errorf("mint: %w", err)
			}
			fmt.Printf("minted bundle %s -> %s\n", bundle.BundleID, path)
			return nil
		}
	}
}

// mintRetryable reports whether a mint failure is just the pool not having
// accumulated enough entropy yet. Anything else (vault, keygen) is permanent
// and retrying it would spin until the deadline.
func mintRetryable(err error) bool {
	return errors.Is(err, chaosmagnet.ErrPoolBelowThreshold)
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	targets := map[string]float64{
		"chaos_samples_total":            0,
		"chaos_pool_fill_fraction":       0,
		"chaos_accumulated_entropy_bits": 0,
		"chaos_mix_cycles_total":         0,
		"chaos_mints_total":              0,
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for key := range targets {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %f", &value); err == nil {
					targets[key] = value
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Printf("[%s] samples=%.0f fill=%.2f bits=%.1f mixes=%.0f mints=%.0f\n",
		time.Now().Format(time.RFC3339),
		targets["chaos_samples_total"],
		targets["chaos_pool_fill_fraction"],
		targets["chaos_accumulated_entropy_bits"],
		targets["chaos_mix_cycles_total"],
		targets["chaos_mints_total"],
	)
	return nil
}

func printUsage() {
	fmt.Printf(`ChaosMagnet CLI

Usage:
  chaosmagnet <command> [flags]

Commands:
  run        Start the entropy node using the provided config
  validate   Load and validate a config file without starting the node
  mint       Start sources, wait for the entropy floor, mint one bundle, exit
  stats      Poll the Prometheus metrics endpoint and print live counters

Examples:
  chaosmagnet run -config ./data/config.yaml
  chaosmagnet validate -config ./data/config.yaml
  chaosmagnet mint -config ./data/config.yaml -timeout 2m
  chaosmagnet stats -url http://localhost:9100/metrics -interval 1s
`)
}

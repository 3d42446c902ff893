// Command link-hub is a small demonstration program wiring link/hub into a
// CLI: load a TOML config, accept client connections, and echo every
// received line back to its sender, logging connect/disconnect transitions.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/xendarboh/linkmesh/link/hub"
)

func main() {
	cfgPath := flag.String("config", "link-hub.toml", "path to hub TOML config")
	flag.Parse()

	cfg, err := hub.LoadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "link-hub: %v\n", err)
		os.Exit(1)
	}

	h, err := hub.New(*cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "link-hub: %v\n", err)
		os.Exit(1)
	}
	defer h.CloseAll()

	ctx := context.Background()
	for _, id := range cfg.ExpectedIDs {
		id := id
		go func() {
			c, err := h.WaitFor(ctx, id)
			if err != nil {
				return
			}
			fmt.Fprintf(os.Stderr, "link-hub: %s registered\n", id)
			for {
				payload, err := c.ReadLine(ctx)
				if err != nil {
					return
				}
				fmt.Fprintf(os.Stderr, "link-hub: %s -> %s", id, payload)
				_ = c.Write(ctx, payload, false, false)
			}
		}()
	}

	select {}
}

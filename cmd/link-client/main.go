// Command link-client is a small demonstration program wiring link/client
// into a CLI: load a TOML config, bring up an Engine, and echo whatever is
// typed on stdin to the hub while printing whatever the hub sends back.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/xendarboh/linkmesh/link/client"
)

func main() {
	cfgPath := flag.String("config", "link-client.toml", "path to client TOML config")
	flag.Parse()

	cfg, err := client.LoadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "link-client: %v\n", err)
		os.Exit(1)
	}

	e := client.New(*cfg, client.WithConnectCallback(func(up bool) {
		fmt.Fprintf(os.Stderr, "link-client: connection %s\n", map[bool]string{true: "up", false: "down"}[up])
	}))
	defer e.Close()

	ctx := context.Background()
	go func() {
		for {
			payload, err := e.Read(ctx)
			if err != nil {
				return
			}
			fmt.Printf("< %s", payload)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := append(scanner.Bytes(), '\n')
		if err := e.Write(ctx, line, true, true); err != nil {
			fmt.Fprintf(os.Stderr, "link-client: write failed: %v\n", err)
		}
	}
}

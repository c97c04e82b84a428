package main

import (
	"context"
	"fmt"
	"os"

	"github.com/carverauto/dvrsync/pkg/cli"
)

func main() {
	cfg, err := cli.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if cfg.Help {
		cli.ShowHelp()
		os.Exit(0)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *cli.CmdConfig) error {
	ctx := context.Background()

	switch cfg.SubCmd {
	case "add-server":
		return cli.RunAddServer(ctx, cfg)
	case "list-servers":
		return cli.RunListServers(ctx, cfg)
	case "remove-server":
		return cli.RunRemoveServer(ctx, cfg)
	case "show-cert":
		return cli.RunShowCert(ctx, cfg)
	case "pin-cert":
		return cli.RunPinCert(ctx, cfg)
	default:
		// Credential hash generation is the default command.
		if len(cfg.Args) > 0 || !cli.IsInputFromTerminal() {
			return cli.RunHashNonInteractive(cfg.User, cfg.Args)
		}

		return cli.RunInteractive()
	}
}

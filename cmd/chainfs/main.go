// Command chainfs manages chained block storage volumes: formatting image
// files, importing and reading stored files, and reclaiming orphaned chunks.
//
// Volumes are described by a configuration file (see 'chainfs config init');
// most commands take -config and -volume flags to pick one.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/chainfs/internal/logger"
)

const usageText = `chainfs - chained block storage volumes

Usage:
  chainfs <command> [flags] [arguments]

Volume commands:
  format      Create and format a new image volume
  volumes     List the volumes in the configuration

File commands:
  import      Copy a local file or stdin into a volume
  cat         Write a stored file to stdout
  ls          List stored files under a prefix
  stat        Show the chain layout of a stored file
  patch       Overwrite part of a stored file from stdin
  rm          Remove a stored file and free its chain

Maintenance commands:
  gc          Find and free orphaned chunks
  config      Manage the configuration file

Run 'chainfs <command> -h' for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	// An interrupt cancels the context so long copies and sweeps stop at a
	// clean point instead of mid-write.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "format":
		err = cmdFormat(ctx, args)
	case "volumes":
		err = cmdVolumes(ctx, args)
	case "import":
		err = cmdImport(ctx, args)
	case "cat":
		err = cmdCat(ctx, args)
	case "ls":
		err = cmdList(ctx, args)
	case "stat":
		err = cmdStat(ctx, args)
	case "patch":
		err = cmdPatch(ctx, args)
	case "rm":
		err = cmdRemove(ctx, args)
	case "gc":
		err = cmdGC(ctx, args)
	case "config":
		err = cmdConfig(ctx, args)
	case "help", "-h", "--help":
		fmt.Print(usageText)
	default:
		fmt.Fprintf(os.Stderr, "chainfs: unknown command %q\n\n%s", cmd, usageText)
		os.Exit(2)
	}

	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/felixgeelhaar/pythonquest/internal/mcp"
)

// cmdMCP serves the MCP tools on stdio, or on HTTP with --http addr
func cmdMCP(args []string) error {
	httpAddr := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--http":
			if i+1 >= len(args) {
				return errors.New("--http requires an address")
			}
			httpAddr = args[i+1]
			i++
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := mcpserver.NewServer(mcpserver.Config{
		Version:  Version,
		Engine:   a.Engine,
		Lessons:  a.Catalog,
		Sessions: a.Sessions,
		Recorder: a.Recorder,
	})

	if httpAddr != "" {
		fmt.Fprintf(os.Stderr, "MCP server listening on %s\n", httpAddr)
		return srv.ServeHTTP(ctx, httpAddr)
	}
	return srv.ServeStdio(ctx)
}

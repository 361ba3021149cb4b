package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"subsurface/internal/observability"
	"subsurface/internal/tools"
)

func main() {
	dataDir := flag.String("data-dir", envOr("DATA_DIR", "data"), "subsurface data directory")
	toolsDir := flag.String("tools-dir", envOr("TOOLS_DIR", "tools"), "script tool directory")
	timeout := flag.Duration("tool-timeout", 30*time.Second, "per-call script timeout")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	// stdout carries the protocol
	observability.Init(observability.LogConfig{Level: *logLevel, Output: os.Stderr})

	args := flag.Args()
	cmd := "serve"
	if len(args) > 0 {
		cmd = args[0]
	}

	srv, err := tools.NewServer(tools.Options{
		Name:        "subsurface-tools",
		DataDir:     *dataDir,
		ToolTimeout: *timeout,
	})
	if err != nil {
		log.Fatalf("tool server: %v", err)
	}
	scripts, err := tools.LoadScripts(*toolsDir)
	if err != nil {
		log.Fatalf("load scripts: %v", err)
	}
	srv.AddScripts(scripts)

	switch cmd {
	case "serve":
		if err := srv.ServeStdio(); err != nil {
			log.Fatalf("serve: %v", err)
		}
	case "list":
		fmt.Print(srv.Describe())
	case "call":
		if len(args) < 2 {
			printUsage()
			os.Exit(2)
		}
		arg := ""
		if len(args) > 2 {
			arg = args[2]
		}
		res, err := srv.CallTool(context.Background(), args[1], arg)
		if err != nil {
			log.Fatalf("call %s: %v", args[1], err)
		}
		fmt.Println(tools.ResultText(res))
		if res.IsError {
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(2)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: subsurface-mcp [-data-dir DIR] [-tools-dir DIR] [serve | list | call <tool> [arg]]")
}

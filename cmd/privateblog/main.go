package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/eringen/privateblog"
	"github.com/eringen/privateblog/views"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(); err != nil {
			log.Fatalf("privateblog: %v", err)
		}
	case "init":
		dir := "."
		if len(os.Args) > 2 {
			dir = os.Args[2]
		}
		if err := runInit(dir); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "new":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: privateblog new <title> < body.md")
			os.Exit(1)
		}
		if err := runNewPost(os.Args[2], os.Stdin); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "hash-password":
		if err := runHashPassword(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("privateblog %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe() error {
	cfg, err := privateblog.LoadConfig()
	if err != nil {
		return err
	}
	app := privateblog.New(cfg, views.New(cfg.Name))
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Start(ctx)
}

func printUsage() {
	fmt.Println(`privateblog - a password-protected markdown blog

Usage:
  privateblog <command> [arguments]

Commands:
  serve           Start the web server (configured through .env)
  init [dir]      Write a starter .env.example and welcome post
  new <title>     Create a post, reading markdown from stdin
  hash-password   Print a bcrypt hash for BLOG_PASSWORD_HASH
  version         Print the privateblog version
  help            Show this help message

Examples:
  privateblog init myblog
  privateblog new "Trip notes" < notes.md
  privateblog serve`)
}

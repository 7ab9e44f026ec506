// Package main is the entry point for scscraper.
//
// Usage:
//
//	scscraper [-o file] [-titles-file f] [title ...]
//	scscraper -serve
//
// Batch mode resolves the titles given as arguments, in the titles file or in
// the TITLES environment variable and writes an M3U playlist. Serve mode
// exposes the same pipeline over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"streamingcommunity-go/internal/app"
	"streamingcommunity-go/pkg/types"
)

func main() {
	serve := flag.Bool("serve", false, "run the HTTP API instead of a batch")
	output := flag.String("o", "", "playlist output path (default $OUTPUT_FILE or Simud.m3u)")
	titlesFile := flag.String("titles-file", "", "file with one title per line")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-serve] [-o file] [-titles-file f] [title ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	application, err := app.New()
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}
	defer application.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *serve {
		if err := application.Serve(ctx); err != nil {
			log.Printf("server error: %v", err)
			os.Exit(1)
		}
		return
	}

	cfg := application.Ctx.Config
	titles := flag.Args()
	if *titlesFile != "" {
		fromFile, err := app.LoadTitlesFile(*titlesFile)
		if err != nil {
			log.Fatalf("%v", err)
		}
		titles = append(titles, fromFile...)
	}
	if len(titles) == 0 {
		titles = cfg.Titles
	}
	if len(titles) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	path := *output
	if path == "" {
		path = cfg.OutputFile
	}

	result, err := application.RunBatch(ctx, titles, path)
	if err != nil {
		log.Printf("batch failed: %v", err)
		os.Exit(1)
	}

	fmt.Printf("%d/%d titles resolved, playlist written to %s\n",
		result.Count(types.StatusResolved), len(titles), path)
}

// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package main implements dirctl, a command-line client for the directory
// layer: ls, mkdir, mv, rm and stat against either an in-memory or a
// disk-backed (badger) KV store.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opendirectorylayer/directory/config"
	"github.com/opendirectorylayer/directory/directory"
	"github.com/opendirectorylayer/directory/facade"
	"github.com/opendirectorylayer/directory/kv"
	"github.com/opendirectorylayer/directory/kv/diskkv"
	"github.com/opendirectorylayer/directory/kv/memkv"
	"github.com/opendirectorylayer/directory/log"
	"github.com/opendirectorylayer/directory/metrics"
)

var v = viper.New()

func Command() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dirctl",
		Short: "dirctl is a command-line client for the directory layer",
		Long:  "A CLI for inspecting and mutating a directory layer tree: ls, mkdir, mv, rm and stat.",
	}

	fs := rootCmd.PersistentFlags()
	fs.String("data-dir", "", "badger data directory to use (empty selects an in-memory store)")
	fs.String("config-file", "", "JSON config file for node_metadata_prefix/content_prefix/allocator_window_schedule")
	fs.Bool("verbose", false, "enable debug logging")

	_ = v.BindPFlag("data-dir", fs.Lookup("data-dir"))
	_ = v.BindPFlag("config-file", fs.Lookup("config-file"))
	_ = v.BindPFlag("verbose", fs.Lookup("verbose"))
	v.SetEnvPrefix("DIRCTL")
	v.AutomaticEnv()

	initLs(rootCmd)
	initMkdir(rootCmd)
	initMv(rootCmd)
	initRm(rootCmd)
	initStat(rootCmd)

	return rootCmd
}

// openFacade constructs a facade.Facade over either a disk-backed or
// in-memory store, per the --data-dir flag.
func openFacade() (*facade.Facade, kv.Database, error) {
	if v.GetBool("verbose") {
		_ = log.Global().SetLevel("debug")
	}

	cfg := config.Config{}
	if cf := v.GetString("config-file"); cf != "" {
		raw, err := os.ReadFile(cf)
		if err != nil {
			return nil, nil, fmt.Errorf("dirctl: reading config file: %w", err)
		}
		parsed, err := config.ParseConfig(raw)
		if err != nil {
			return nil, nil, err
		}
		cfg = *parsed
	} else {
		parsed, err := config.ParseConfig([]byte(`{}`))
		if err != nil {
			return nil, nil, err
		}
		cfg = *parsed
	}

	var db kv.Database
	if dir := v.GetString("data-dir"); dir != "" {
		d, err := diskkv.Open(context.Background(), diskkv.Options{Dir: dir})
		if err != nil {
			return nil, nil, fmt.Errorf("dirctl: opening data dir: %w", err)
		}
		db = d
	} else {
		db = memkv.New()
	}

	m := metrics.New()
	root := directory.NewRoot(cfg, m)
	return facade.New(db, root, m), db, nil
}

func exitOnError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

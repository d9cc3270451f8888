// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opendirectorylayer/directory/path"
)

func initMkdir(rootCmd *cobra.Command) {
	var layer string
	var partition bool

	mkdirCmd := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "create a directory",
		Long:  "Create the directory at path, creating any missing ancestors along the way (per spec §4.1's create semantics).",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runMkdir(args[0], layer, partition)
		},
	}
	fs := mkdirCmd.Flags()
	fs.StringVar(&layer, "layer", "", "content layer to tag the new directory with")
	fs.BoolVar(&partition, "partition", false, `shorthand for --layer=partition`)
	rootCmd.AddCommand(mkdirCmd)
}

func runMkdir(raw, layer string, partition bool) error {
	p, ok := path.Parse(raw)
	if !ok {
		return fmt.Errorf("dirctl: invalid path %q", raw)
	}
	if partition {
		layer = "partition"
	}

	f, db, err := openFacade()
	if err != nil {
		return err
	}
	defer db.Close()

	h, err := f.Create(context.Background(), p, layer, nil)
	if err != nil {
		return err
	}
	fmt.Printf("created %s prefix=%x layer=%q\n", h.Path, h.Prefix, h.LayerID)
	return nil
}

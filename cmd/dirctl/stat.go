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

func initStat(rootCmd *cobra.Command) {
	statCmd := &cobra.Command{
		Use:   "stat <path>",
		Short: "show metadata for a directory",
		Long:  "Resolve path and print its content prefix, layer id, and whether it is a partition root.",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runStat(args[0])
		},
	}
	rootCmd.AddCommand(statCmd)
}

func runStat(raw string) error {
	p, ok := path.Parse(raw)
	if !ok {
		return fmt.Errorf("dirctl: invalid path %q", raw)
	}

	f, db, err := openFacade()
	if err != nil {
		return err
	}
	defer db.Close()

	h, err := f.Open(context.Background(), p, "")
	if err != nil {
		return err
	}
	fmt.Printf("path:       %s\n", h.Path)
	fmt.Printf("prefix:     %x\n", h.Prefix)
	fmt.Printf("layer:      %q\n", h.LayerID)
	fmt.Printf("partition:  %v\n", h.IsPartition)
	return nil
}

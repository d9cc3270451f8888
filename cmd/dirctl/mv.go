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

func initMv(rootCmd *cobra.Command) {
	mvCmd := &cobra.Command{
		Use:   "mv <src> <dst>",
		Short: "move (rename) a directory",
		Long:  "Move the directory at src to dst without rewriting its content keys (spec §4.5).",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runMv(args[0], args[1])
		},
	}
	rootCmd.AddCommand(mvCmd)
}

func runMv(rawSrc, rawDst string) error {
	src, ok := path.Parse(rawSrc)
	if !ok {
		return fmt.Errorf("dirctl: invalid path %q", rawSrc)
	}
	dst, ok := path.Parse(rawDst)
	if !ok {
		return fmt.Errorf("dirctl: invalid path %q", rawDst)
	}

	f, db, err := openFacade()
	if err != nil {
		return err
	}
	defer db.Close()

	h, err := f.Move(context.Background(), src, dst)
	if err != nil {
		return err
	}
	fmt.Printf("moved %s -> %s prefix=%x\n", rawSrc, h.Path, h.Prefix)
	return nil
}

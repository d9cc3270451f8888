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

func initRm(rootCmd *cobra.Command) {
	rmCmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "remove a directory and its entire subtree",
		Long:  "Remove the directory at path along with every descendant and its content (spec §4.6).",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runRm(args[0])
		},
	}
	rootCmd.AddCommand(rmCmd)
}

func runRm(raw string) error {
	p, ok := path.Parse(raw)
	if !ok {
		return fmt.Errorf("dirctl: invalid path %q", raw)
	}

	f, db, err := openFacade()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := f.Remove(context.Background(), p); err != nil {
		return err
	}
	fmt.Printf("removed %s\n", raw)
	return nil
}

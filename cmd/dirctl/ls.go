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

func initLs(rootCmd *cobra.Command) {
	lsCmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "list the children of a directory",
		Long:  "List the names of the immediate children of the directory at path (the root if omitted).",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runLs(args)
		},
	}
	rootCmd.AddCommand(lsCmd)
}

func runLs(args []string) error {
	p := path.Root()
	if len(args) == 1 {
		parsed, ok := path.Parse(args[0])
		if !ok {
			return fmt.Errorf("dirctl: invalid path %q", args[0])
		}
		p = parsed
	}

	f, db, err := openFacade()
	if err != nil {
		return err
	}
	defer db.Close()

	names, err := f.List(context.Background(), p)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

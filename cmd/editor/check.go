// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/AleutianAI/AleutianEdit/services/editor/lang"
	"github.com/AleutianAI/AleutianEdit/services/editor/lang/statemachine"
	"github.com/spf13/cobra"
)

var errCheckFailed = errors.New("check found errors")

// runCheck validates files without a server, the same way a stateless
// validate request does.
func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	engines := statemachine.Engines(0)
	out := cmd.OutOrStdout()

	failed := false
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		res, err := engines.Parser.Parse(ctx, path, string(data))
		if err != nil {
			fmt.Fprintf(out, "%s: error: %v\n", path, err)
			failed = true
			continue
		}
		diags, err := engines.Validator.Validate(ctx, res)
		if err != nil {
			return fmt.Errorf("validate %s: %w", path, err)
		}
		for _, d := range diags {
			fmt.Fprintf(out, "%s:%d: %s: %s\n", path, d.Offset, d.Severity, d.Message)
		}
		if lang.HasErrors(diags) {
			failed = true
		}
	}
	if failed {
		cmd.SilenceUsage = true
		return errCheckFailed
	}
	return nil
}

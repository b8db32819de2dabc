package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Paintersrp/sigrt/internal/cliutil"
	"github.com/Paintersrp/sigrt/internal/procdir"
)

func newPsCmd(ctx *context) *cobra.Command {
	var (
		all    bool
		output string
		pgrp   int
	)
	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List runtime processes from the process directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := ctx.hostEnv()
			if err != nil {
				return err
			}
			ds, err := env.dir.List()
			if err != nil {
				return err
			}
			if pgrp > 0 {
				ds = filterGroup(ds, pgrp)
			}

			out := cmd.OutOrStdout()
			switch output {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(ds)
			case "yaml":
				enc := yaml.NewEncoder(out)
				defer enc.Close()
				return enc.Encode(ds)
			case "table", "":
				return cliutil.WriteProcessTable(out, ds, time.Now(), all)
			default:
				return fmt.Errorf("unknown output format %q", output)
			}
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include exited processes")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json or yaml")
	cmd.Flags().IntVarP(&pgrp, "pgrp", "g", 0, "Only list members of this process group")
	return cmd
}

func filterGroup(ds []procdir.Descriptor, pgrp int) []procdir.Descriptor {
	out := ds[:0]
	for _, d := range ds {
		if d.Pgid == pgrp {
			out = append(out, d)
		}
	}
	return out
}

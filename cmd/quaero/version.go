package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jobmatch-ai/pipeline/internal/common"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("jobmatch-pipeline version %s\n", common.GetFullVersion())
	},
}

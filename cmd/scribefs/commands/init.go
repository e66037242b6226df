package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scribefs/scribefs/pkg/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write an example configuration file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		out, _ := cmd.Flags().GetString("output")
		if err := config.WriteExample(out); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", out)
		return nil
	},
}

func init() {
	initCmd.Flags().StringP("output", "o", "scribefs.yaml", "output path")
	rootCmd.AddCommand(initCmd)
}

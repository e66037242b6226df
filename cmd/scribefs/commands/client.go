package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scribefs/scribefs/pkg/client"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Run the interactive client",
	Long:  "Connect to the name server and run the interactive command loop.",
	RunE:  runClient,
}

func init() {
	clientCmd.Flags().StringP("user", "u", "", "username to register as")
	clientCmd.Flags().String("nameserver", "", "name server address (overrides config)")
	rootCmd.AddCommand(clientCmd)
}

func runClient(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("user") {
		cfg.Client.Username, _ = cmd.Flags().GetString("user")
	}
	if cmd.Flags().Changed("nameserver") {
		cfg.Client.NameServerAddr, _ = cmd.Flags().GetString("nameserver")
	}

	c, err := client.Dial(cfg.Client)
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Printf("connected to %s as %s\n", cfg.Client.NameServerAddr, c.Username())
	return c.Run(os.Stdin, os.Stdout)
}

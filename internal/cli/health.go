package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check storage backend health and print stats",
		Run:   runHealth,
	}
	cmd.Flags().Bool("detailed", false, "Print the full stats payload instead of the liveness summary")
	RootCmd.AddCommand(cmd)
}

func runHealth(cmd *cobra.Command, args []string) {
	detailed, _ := cmd.Flags().GetBool("detailed")

	svc, closeSvc, err := openService()
	if err != nil {
		exitErr("open service", err)
	}
	defer closeSvc()

	var stats interface{}
	if detailed {
		stats, err = svc.CheckHealthDetailed(cmd.Context())
	} else {
		stats, err = svc.CheckHealth(cmd.Context())
	}
	if err != nil {
		exitErr("check health", err)
	}

	b, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(b))
}

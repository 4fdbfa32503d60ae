package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "store [content]",
		Short: "Store a memory",
		Args:  cobra.ExactArgs(1),
		Run:   runStore,
	}

	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().String("type", "", "Memory type (default: note)")

	RootCmd.AddCommand(cmd)
}

func runStore(cmd *cobra.Command, args []string) {
	tagsStr, _ := cmd.Flags().GetString("tags")
	memoryType, _ := cmd.Flags().GetString("type")

	var tags []string
	for _, t := range strings.Split(tagsStr, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}

	svc, closeSvc, err := openService()
	if err != nil {
		exitErr("open service", err)
	}
	defer closeSvc()

	result, err := svc.StoreMemory(cmd.Context(), args[0], tags, memoryType, nil, "", 0, "")
	if err != nil {
		exitErr("store memory", err)
	}

	if outputJSON {
		b, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(b))
		return
	}
	fmt.Println(result.ContentHash)
}

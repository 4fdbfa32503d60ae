package cli

import (
	"encoding/json"
	"fmt"

	"github.com/hearthlabs/memoryd/internal/storage"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories page by page",
		Run:   runList,
	}

	cmd.Flags().Int("page", 1, "Page number, 1-based")
	cmd.Flags().Int("page-size", 20, "Results per page")
	cmd.Flags().String("tag", "", "Filter by tag")
	cmd.Flags().String("type", "", "Filter by memory type")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	page, _ := cmd.Flags().GetInt("page")
	pageSize, _ := cmd.Flags().GetInt("page-size")
	tag, _ := cmd.Flags().GetString("tag")
	memoryType, _ := cmd.Flags().GetString("type")

	svc, closeSvc, err := openService()
	if err != nil {
		exitErr("open service", err)
	}
	defer closeSvc()

	result, err := svc.List(cmd.Context(), page, pageSize, storage.ListFilters{Tag: tag, MemoryType: memoryType})
	if err != nil {
		exitErr("list memories", err)
	}

	if outputJSON {
		b, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(b))
		return
	}

	for _, m := range result.Results {
		fmt.Printf("%s\t%s\t%v\n", m.ContentHash[:12], m.MemoryType, m.Tags)
	}
	fmt.Printf("page %d/%d, %d total\n", result.Page, pageCount(result.Total, result.PageSize), result.Total)
}

func pageCount(total, pageSize int) int {
	if pageSize <= 0 {
		return 1
	}
	pages := total / pageSize
	if total%pageSize != 0 {
		pages++
	}
	if pages == 0 {
		return 1
	}
	return pages
}

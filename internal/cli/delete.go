package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	del := &cobra.Command{
		Use:   "delete [content-hash]",
		Short: "Delete a memory by content hash",
		Args:  cobra.ExactArgs(1),
		Run:   runDelete,
	}
	RootCmd.AddCommand(del)

	deleteTag := &cobra.Command{
		Use:   "delete-tag [tag]",
		Short: "Delete every memory carrying a tag",
		Args:  cobra.ExactArgs(1),
		Run:   runDeleteByTag,
	}
	RootCmd.AddCommand(deleteTag)

	cleanup := &cobra.Command{
		Use:   "cleanup-duplicates",
		Short: "Remove duplicate memories, keeping the earliest of each content hash",
		Run:   runCleanupDuplicates,
	}
	RootCmd.AddCommand(cleanup)
}

func runDelete(cmd *cobra.Command, args []string) {
	svc, closeSvc, err := openService()
	if err != nil {
		exitErr("open service", err)
	}
	defer closeSvc()

	result, err := svc.DeleteMemory(cmd.Context(), args[0])
	if err != nil {
		exitErr("delete memory", err)
	}
	fmt.Println(result.Message)
}

func runDeleteByTag(cmd *cobra.Command, args []string) {
	svc, closeSvc, err := openService()
	if err != nil {
		exitErr("open service", err)
	}
	defer closeSvc()

	n, err := svc.DeleteByTag(cmd.Context(), args[0])
	if err != nil {
		exitErr("delete by tag", err)
	}
	fmt.Printf("deleted %d memories tagged %q\n", n, args[0])
}

func runCleanupDuplicates(cmd *cobra.Command, args []string) {
	svc, closeSvc, err := openService()
	if err != nil {
		exitErr("open service", err)
	}
	defer closeSvc()

	n, err := svc.CleanupDuplicates(cmd.Context())
	if err != nil {
		exitErr("cleanup duplicates", err)
	}
	fmt.Printf("removed %d duplicate memories\n", n)
}

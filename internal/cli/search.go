package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	retrieve := &cobra.Command{
		Use:   "search [query]",
		Short: "Semantic search over stored memories",
		Args:  cobra.ExactArgs(1),
		Run:   runSearch,
	}
	retrieve.Flags().IntP("n", "n", 5, "Number of results")
	retrieve.Flags().Float64("min-similarity", 0, "Minimum cosine similarity")
	RootCmd.AddCommand(retrieve)

	byTag := &cobra.Command{
		Use:   "search-tag [tags]",
		Short: "Search memories by comma-separated tags",
		Args:  cobra.ExactArgs(1),
		Run:   runSearchByTag,
	}
	byTag.Flags().Bool("match-all", false, "Require every tag to match, not just one")
	RootCmd.AddCommand(byTag)

	similar := &cobra.Command{
		Use:   "search-similar [content-hash]",
		Short: "Find memories similar to an existing one",
		Args:  cobra.ExactArgs(1),
		Run:   runSearchSimilar,
	}
	similar.Flags().IntP("n", "n", 5, "Number of results")
	RootCmd.AddCommand(similar)
}

func runSearch(cmd *cobra.Command, args []string) {
	n, _ := cmd.Flags().GetInt("n")
	minSim, _ := cmd.Flags().GetFloat64("min-similarity")

	svc, closeSvc, err := openService()
	if err != nil {
		exitErr("open service", err)
	}
	defer closeSvc()

	result, err := svc.RetrieveMemory(cmd.Context(), args[0], n, minSim)
	if err != nil {
		exitErr("retrieve memory", err)
	}
	printJSONOrLines(result, func() {
		for _, r := range result.Results {
			fmt.Printf("%.4f\t%s\t%s\n", r.SimilarityScore, r.Memory.ContentHash[:12], truncate(r.Memory.Content, 80))
		}
	})
}

func runSearchByTag(cmd *cobra.Command, args []string) {
	matchAll, _ := cmd.Flags().GetBool("match-all")
	tags := splitCommaList(args[0])

	svc, closeSvc, err := openService()
	if err != nil {
		exitErr("open service", err)
	}
	defer closeSvc()

	result, err := svc.SearchByTag(cmd.Context(), tags, matchAll)
	if err != nil {
		exitErr("search by tag", err)
	}
	printJSONOrLines(result, func() {
		for _, m := range result.Results {
			fmt.Printf("%s\t%v\n", m.ContentHash[:12], m.Tags)
		}
	})
}

func runSearchSimilar(cmd *cobra.Command, args []string) {
	n, _ := cmd.Flags().GetInt("n")

	svc, closeSvc, err := openService()
	if err != nil {
		exitErr("open service", err)
	}
	defer closeSvc()

	result, err := svc.SearchSimilarTo(cmd.Context(), args[0], n)
	if err != nil {
		exitErr("search similar", err)
	}
	printJSONOrLines(result, func() {
		for _, r := range result.Results {
			fmt.Printf("%.4f\t%s\t%s\n", r.SimilarityScore, r.Memory.ContentHash[:12], truncate(r.Memory.Content, 80))
		}
	})
}

func printJSONOrLines(v interface{}, printLines func()) {
	if outputJSON {
		b, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(b))
		return
	}
	printLines()
}

func splitCommaList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

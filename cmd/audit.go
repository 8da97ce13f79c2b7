package cmd

import (
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"github.com/taziji/ChinaRMBSite/lib"
)

var (
	auditRoot string

	auditCmd = &cobra.Command{
		Use:   "audit",
		Short: "Audit HTML files for image reference issues",
	}

	auditNoExtCmd = &cobra.Command{
		Use:   "no-ext",
		Short: "List <img> tags whose src has no file extension",
		Run: func(cmd *cobra.Command, args []string) {
			issues, err := lib.FindExtensionlessImages(auditRoot)
			if err != nil {
				log.Fatal(err)
			}
			if len(issues) == 0 {
				fmt.Println("No <img> tags with missing extensions found.")
				return
			}
			printTagIssues(issues)
		},
	}

	auditWebpCmd = &cobra.Command{
		Use:   "webp",
		Short: "List <img> tags pointing at .webp files",
		Run: func(cmd *cobra.Command, args []string) {
			issues, err := lib.FindWebpImages(auditRoot)
			if err != nil {
				log.Fatal(err)
			}
			if len(issues) == 0 {
				fmt.Println("No <img> tags pointing to .webp files were found.")
				return
			}
			printTagIssues(issues)
		},
	}

	auditIssuesCmd = &cobra.Command{
		Use:   "issues <file>",
		Short: "Extract HTML file paths and image src values from a saved issue log",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			f, err := os.Open(args[0])
			if err != nil {
				log.Fatalf("issue file not found: %s", args[0])
			}
			defer f.Close()

			pairs, err := lib.ParseIssueLog(f)
			if err != nil {
				log.Fatal(err)
			}
			if len(pairs) == 0 {
				fmt.Println("No image issues found in the provided file.")
				return
			}

			files := make(map[string]bool)
			srcs := make(map[string]bool)
			for _, p := range pairs {
				files[p.File] = true
				srcs[p.Src] = true
			}

			fmt.Println("HTML files with image issues:")
			for _, file := range sortedKeys(files) {
				fmt.Println(file)
			}
			fmt.Println("\nImage paths referenced:")
			for _, src := range sortedKeys(srcs) {
				fmt.Println(src)
			}
		},
	}
)

func printTagIssues(issues []lib.TagIssue) {
	currentFile := ""
	for _, issue := range issues {
		if issue.File != currentFile {
			currentFile = issue.File
			fmt.Println(currentFile)
		}
		fmt.Printf("  line %d: src='%s' -> %s\n", issue.Line, issue.Src, issue.Tag)
	}
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditNoExtCmd, auditWebpCmd, auditIssuesCmd)
	auditCmd.PersistentFlags().StringVar(&auditRoot, "root", ".", "Directory containing the HTML files to scan")
}

package cmd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/taziji/ChinaRMBSite/lib"
)

var (
	pageURL   string
	baseURL   string
	htmlRoot  string
	htmlFile  string
	outputDir string
	overwrite bool
	dryRun    bool
	workers   int

	mirrorCmd = &cobra.Command{
		Use:   "mirror [paths...]",
		Short: "Mirror the images of a page or a whole HTML tree",
		Long: `Download every <img> asset referenced by a rendered page (--url) or by
all HTML files beneath a root (--base-url + --html-root) into the output
directory, mirroring the remote folder structure, then rewrite the HTML
files to point at the local copies. Optional path arguments (files,
directories or glob patterns relative to the HTML root) limit a batch run.`,
		Run: func(cmd *cobra.Command, args []string) {
			startTime := time.Now()

			if pageURL == "" && baseURL == "" {
				log.Fatal("either --url or --base-url is required")
			}

			absOutput, err := filepath.Abs(outputDir)
			if err != nil {
				log.Fatal(err)
			}
			siteRoot := ""
			if htmlRoot != "" {
				siteRoot, err = filepath.Abs(htmlRoot)
				if err != nil {
					log.Fatal(err)
				}
			}

			cfg := lib.MirrorConfig{
				BaseURL:   baseURL,
				SiteRoot:  siteRoot,
				OutputDir: absOutput,
				Overwrite: overwrite,
				DryRun:    dryRun,
				Workers:   workers,
				Logf:      logf(),
			}

			if pageURL != "" {
				mirrorer := lib.NewMirrorer(newFetcher(), nil, cfg)
				stats, err := mirrorer.MirrorPage(ctx, pageURL, htmlFile)
				if err != nil {
					log.Fatal(err)
				}
				fmt.Println(stats.Summary())
				if verbose {
					fmt.Println("Done in", time.Since(startTime))
				}
				return
			}

			files, err := lib.DiscoverHTMLFiles(siteRoot, args)
			if err != nil {
				log.Fatal(err)
			}
			if len(files) == 0 {
				fmt.Println("No HTML files found to process.")
				return
			}

			var bar *progressbar.ProgressBar
			if !verbose {
				bar = progressbar.Default(int64(len(files)), "mirroring")
			}
			cfg.OnDocument = func(doc string, st lib.Stats, err error) {
				if bar != nil {
					bar.Add(1)
				}
			}
			mirrorer := lib.NewMirrorer(newFetcher(), nil, cfg)

			stats, err := mirrorer.MirrorFiles(ctx, siteRoot, files)
			if err != nil {
				log.Fatal(err)
			}
			fmt.Printf("\nProcessed %d HTML files. %s\n", len(files), stats.Summary())
			if verbose {
				fmt.Println("Done in", time.Since(startTime))
			}
			if stats.Failed > 0 {
				os.Exit(1)
			}
		},
	}
)

func init() {
	rootCmd.AddCommand(mirrorCmd)
	mirrorCmd.Flags().StringVarP(&pageURL, "url", "u", "", "URL of a single rendered page to mirror")
	mirrorCmd.Flags().StringVarP(&baseURL, "base-url", "b", "", "Base URL serving the HTML tree for a batch run")
	mirrorCmd.Flags().StringVar(&htmlRoot, "html-root", ".", "Directory containing the HTML files")
	mirrorCmd.Flags().StringVar(&htmlFile, "html-file", "", "Local HTML file to rewire (single page mode; inferred from the URL when omitted)")
	mirrorCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "assets", "Root directory for downloaded assets")
	mirrorCmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite asset files that already exist")
	mirrorCmd.Flags().BoolVarP(&dryRun, "dry-run", "d", false, "Compute mappings without downloading or rewriting")
	mirrorCmd.Flags().IntVarP(&workers, "workers", "w", 0, "Number of concurrent downloads (0 uses the fetcher default)")
}

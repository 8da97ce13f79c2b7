package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/taziji/ChinaRMBSite/lib"
)

var (
	cacheRoot  string
	cacheHost  string
	cacheDry   bool
	cacheForce bool

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Cache remote asset-host images referenced anywhere in the tree",
		Long: `Scan every HTML file beneath the root for absolute URLs on the asset
host, download a copy of each (mirroring the remote folder structure
under ./assets), and rewrite the references to point at the local copies.`,
		Run: func(cmd *cobra.Command, args []string) {
			cacher := lib.NewHostCacher(newFetcher(), lib.CacheConfig{
				Root:   cacheRoot,
				Host:   cacheHost,
				DryRun: cacheDry,
				Force:  cacheForce,
				Logf: func(format string, a ...interface{}) {
					fmt.Printf(format+"\n", a...)
				},
			})

			result, err := cacher.Run(ctx)
			if err != nil {
				log.Fatal(err)
			}

			if result.Assets == 0 {
				fmt.Printf("No remote %s assets found.\n", cacheHostName())
				return
			}
			verb := "Cached"
			if cacheDry {
				verb = "Would cache"
			}
			fmt.Printf("%s %d asset(s) referenced across %d HTML file(s). Rewrote %d file(s).\n",
				verb, result.Assets, result.Files, result.Rewritten)
			if verbose {
				fmt.Println(result.Stats.Summary())
			}
		},
	}
)

func cacheHostName() string {
	if cacheHost != "" {
		return cacheHost
	}
	return lib.DefaultAssetHost
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.Flags().StringVar(&cacheRoot, "root", ".", "Project root that contains the assets folder")
	cacheCmd.Flags().StringVar(&cacheHost, "host", lib.DefaultAssetHost, "Remote asset host to mirror")
	cacheCmd.Flags().BoolVar(&cacheDry, "dry-run", false, "Show what would happen without downloading or rewriting")
	cacheCmd.Flags().BoolVar(&cacheForce, "force-download", false, "Re-download files even if a cached copy already exists")
}

package cmd

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"github.com/taziji/ChinaRMBSite/lib"
)

var (
	proxyURL       string
	verbose        bool
	ratePerSecond  int
	ctx            = context.Background()
	parsedProxyURL *url.URL

	rootCmd = &cobra.Command{
		Use:   "assetmirror",
		Short: "Mirror remote site images locally",
		Long: `assetmirror downloads the remote images referenced by a static HTML
site into a local assets tree and rewrites the HTML so pages load from
the local mirror instead of the remote host.`,
	}
)

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy", "x", "", "Specify the proxy url")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().IntVarP(&ratePerSecond, "rate", "r", lib.DefaultRatePerSecond, "Specify the rate of requests per second")
}

// newFetcher builds the shared fetcher from the persistent flags.
func newFetcher() *lib.Fetcher {
	if ratePerSecond <= 0 {
		log.Fatal("rate must be greater than 0")
	}
	if proxyURL != "" {
		var err error
		parsedProxyURL, err = parseURL(proxyURL)
		if err != nil {
			log.Fatal(err)
		}
	}
	return lib.NewFetcher(
		lib.WithRatePerSecond(ratePerSecond),
		lib.WithProxyURL(parsedProxyURL),
	)
}

// parseURL validates that the string is an absolute http(s) URL.
func parseURL(toTest string) (*url.URL, error) {
	if _, err := url.ParseRequestURI(toTest); err != nil {
		return nil, err
	}
	u, err := url.Parse(toTest)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid URL: %s", toTest)
	}
	return u, nil
}

// logf returns the verbose progress sink for lib components.
func logf() func(format string, args ...interface{}) {
	if !verbose {
		return nil
	}
	return func(format string, args ...interface{}) {
		log.Printf(format, args...)
	}
}

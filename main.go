package main

import "github.com/taziji/ChinaRMBSite/cmd"

func main() {
	cmd.Execute()
}

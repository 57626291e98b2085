package main

import "github.com/always-cache/respcache/cli"

// this is set by goreleaser
var version string

func main() {
	if version != "" {
		cli.Version = version
	}
	cli.Execute()
}

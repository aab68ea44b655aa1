package main

import (
	"os"

	"github.com/potholewatch/potholewatch/cmd"
	"github.com/potholewatch/potholewatch/internal/app"
	"github.com/potholewatch/potholewatch/internal/buildinfo"
)

// Set at build time via ldflags.
var (
	version   = "dev"
	buildDate = ""
)

func main() {
	build := buildinfo.New(version, buildDate)
	if err := cmd.RootCommand(app.NewContext(build)).Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"github.com/skobkin/gfxpower/internal/cli"
	"github.com/skobkin/gfxpower/internal/version"
)

var (
	buildVersion = "dev"
	buildCommit  = ""
	buildTime    = ""
)

func main() {
	version.Set(version.Info{
		Version:   buildVersion,
		Commit:    buildCommit,
		BuildTime: buildTime,
	})
	cli.Execute(version.Current().String())
}

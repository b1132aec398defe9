package main

import (
	"github.com/danmuck/spreadctl/cmd/spreadctl/commands"
)

// Version and BuildTime are set with -ldflags at release time.
var (
	Version   = "dev"
	BuildTime = "N/A"
)

func main() {
	commands.Version = Version
	commands.BuildTime = BuildTime
	commands.Execute()
}

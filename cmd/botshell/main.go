package main

import (
	"github.com/Paintersrp/botshell/internal/cli"
	"github.com/Paintersrp/botshell/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}

package main

import (
	"github.com/Paintersrp/sigrt/internal/cli"
	"github.com/Paintersrp/sigrt/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}

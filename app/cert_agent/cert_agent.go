package main

import (
	"github.com/appleparan/dimension-bridge/pkg/cert_agent/cli"
	formatter "github.com/bluexlab/logrus-formatter"
)

func main() {
	formatter.InitLogger()
	cli := cli.App{}
	cli.Run()
}

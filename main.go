package main

import (
	"github.com/superdarn-canada/gatekeeper/cmd"
	"github.com/superdarn-canada/gatekeeper/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}

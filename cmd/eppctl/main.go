// Command eppctl sends EPP commands through a pooled client session.
package main

import (
	"os"

	"github.com/golang/glog"
)

func main() {
	err := newRootCmd().Execute()
	glog.Flush()
	if err != nil {
		os.Exit(1)
	}
}

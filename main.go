// Package main is the entry point for the partsync application
package main

import (
	"github.com/shopmgr/partsync/cmd"
)

func main() {
	cmd.Execute()
}

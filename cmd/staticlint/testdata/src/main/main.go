package main

import (
	"os"
	sys "os"
)

func main() {
	defer func() {
		os.Exit(2)
	}()
	if len(os.Args) > 2 {
		sys.Exit(3) // want "don't use os.Exit\\(\\) in main"
	}
	os.Exit(1) // want "don't use os.Exit\\(\\) in main"
}

func exit() {
	os.Exit(1)
}

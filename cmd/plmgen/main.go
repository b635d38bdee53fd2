package main

import "github.com/santiagomed/plmgen/cli"

func main() {
	cli.Execute()
}

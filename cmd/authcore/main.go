package main

import "github.com/goliatone/go-authcore/cmd/authcore/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/aranyaone/relay/cmd/relay-cli/cmd"

func main() {
	cmd.Execute()
}

// Command planetctl is the administrative CLI client for planetd.
package main

import "github.com/nfkplanet/planetd/cmd/planetctl/commands"

func main() {
	commands.Execute()
}

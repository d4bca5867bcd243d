// nat64statectl -- CLI client for the nat64stated admin API.
package main

import "github.com/dantte-lp/nat64stated/cmd/nat64statectl/commands"

func main() {
	commands.Execute()
}

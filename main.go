package main

import "github.com/sz9751210/gcp-network-tool/cli"

func main() {
	cli.Execute()
}

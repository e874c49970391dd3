package main

import "github.com/arcward/dynvoice/cmd"

func main() {
	cmd.Execute()
}

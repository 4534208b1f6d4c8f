package main

import "github.com/StinkyLord/sbom-builder/cmd"

func main() {
	cmd.Execute()
}

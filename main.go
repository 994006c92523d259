package main

import "github.com/audiolibrelab/spatialrec/cmd"

func main() {
	cmd.Execute()
}

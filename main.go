package main

import "github.com/iksnae/pipeline-session/cmd"

func main() {
	cmd.Execute()
}

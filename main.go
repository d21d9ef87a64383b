package main

import "PhuzzyAudio/cmd"

func main() {
	cmd.Execute()
}

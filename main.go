package main

import "github.com/Siddhant-K-code/identd/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/nextlevelbuilder/buddy/cmd"

func main() {
	cmd.Execute()
}

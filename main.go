package main

import "github.com/tassa-yoniso-manasi-karoto/subtrans/cmd"

func main() {
	cmd.Execute()
}
package main

import "github.com/ValentinKolb/fab/cmd"

func main() {
	cmd.Execute()
}

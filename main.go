package main

import "github.com/ValentinKolb/uio/cmd"

func main() {
	cmd.Execute()
}

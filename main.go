package main

import "obdrelay/cmd"

func main() {
	cmd.Execute()
}

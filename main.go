package main

import "github.com/andresmejia3/smartstore/cmd"

func main() {
	cmd.Execute()
}

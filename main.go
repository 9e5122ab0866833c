package main

import "github.com/Rain1971/V2C-trydant/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/zqq-nuli/felay/cmd"

func main() {
	cmd.Execute()
}

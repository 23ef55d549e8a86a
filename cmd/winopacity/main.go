package main

import "github.com/bryanchriswhite/WinOpacity/cmd/winopacity/commands"

func main() {
	commands.Execute()
}

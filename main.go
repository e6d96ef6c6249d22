package main

import "github.com/cliphive/ms-go-account/cmd"

func main() {
	cmd.Execute()
}

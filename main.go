package main

import "github.com/Builder-Lawyers/billing-backend/cmd"

func main() {
	cmd.Init()
}

package main

import "github.com/JakeFAU/warc-langfilter/cmd"

func main() {
	cmd.Execute()
}

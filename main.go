package main

import "github.com/rohmanhakim/web-crawler/internal/cli"

func main() {
	cli.Execute()
}

package main

import "github.com/vietddude/lambdakit/internal/cli"

func main() {
	cli.Execute()
}

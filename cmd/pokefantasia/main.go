package main

import "github.com/3leaps/pokefantasia/internal/cmd"

func main() {
	cmd.Execute()
}

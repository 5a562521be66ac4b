package main

import "github.com/Davincible/claude-vllm-proxy/cmd"

func main() {
	cmd.Execute()
}

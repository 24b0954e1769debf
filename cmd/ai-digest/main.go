// Command ai-digest collects AI-industry posts and delivers a daily digest.
package main

import "github.com/JakeFAU/ai-digest/cmd"

func main() {
	cmd.Execute()
}

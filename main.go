// The main package for the crawl coordinator executable.
package main

import (
	"github.com/JakeFAU/crawl-coordinator/cmd"
)

func main() {
	cmd.Execute()
}

// The main package for the archiver executable.
package main

import (
	"github.com/JakeFAU/web-archiver/cmd"
)

func main() {
	cmd.Execute()
}

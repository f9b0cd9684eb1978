// The main package for the esg-digest executable.
package main

import "github.com/JakeFAU/esg-news-digest/cmd"

func main() {
	cmd.Execute()
}

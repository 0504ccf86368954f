// Command multimaya runs Python functions in a fresh interpreter and prints
// their results.
package main

import (
	"os"
)

func main() {
	os.Exit(execute())
}

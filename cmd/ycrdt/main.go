// Command ycrdt inspects and manipulates v1 document updates and the update
// logs kept by crdtstorage.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

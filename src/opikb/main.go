// opikb builds and installs an Orange Pi 5 Plus kernel with Mali G610 GPU
// support.
package main

import (
	"github.com/bitswalk/opikb/src/opikb/core"
)

func main() {
	core.Execute()
}

package main

import (
	"github.com/crazycatseven/Faster-whisper/cmd/fwapi"
)

func main() {
	fwapi.Execute()
}

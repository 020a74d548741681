package rop

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionFile string

// Version is the current version of the ROP library.
var Version = strings.TrimSpace(versionFile)

// Command textops is a Go plugin for the ExternalLibCall operation.
//
// Build it with:
//
//	go build -buildmode=plugin -o build/plugins/textops.so ./plugins/textops
package main

import "strings"

// Version is checked against extcall.version_constraint.
var Version = "1.0.0"

// Sum returns a+b.
func Sum(a, b uint64) uint64 {
	return a + b
}

// Find returns the first line containing target.
func Find(lines []string, target string) (string, bool) {
	for _, l := range lines {
		if strings.Contains(l, target) {
			return l, true
		}
	}
	return "", false
}

func main() {}

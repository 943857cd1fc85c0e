// Package main provides the unified CLI entry point for the chamber-hub
// services.
package main

func main() {
	Execute()
}

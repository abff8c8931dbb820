// Command team-broker runs the multi-tenant credential broker.
package main

// version can be set during build with -ldflags
var version = "dev"

func main() {
	Execute(version)
}

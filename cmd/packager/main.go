package main

import "github.com/oshokin/manifest-packager/cmd/packager/cmd"

func main() {
	cmd.Execute()
}

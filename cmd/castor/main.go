// Copyright © 2018 One Concern

package main

import (
	"github.com/oneconcern/castor/cmd/castor/cmd"
)

func main() {
	cmd.Execute()
}

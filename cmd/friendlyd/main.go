package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "friendlyd"}

	root.AddCommand(serveCMD(), migrateCMD(), secretCMD())
	_ = root.Execute()
}

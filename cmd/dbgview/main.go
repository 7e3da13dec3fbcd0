// Command dbgview inspects symbol files and ELF core dumps.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

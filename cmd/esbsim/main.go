// esbsim runs Enhanced ShockBurst links over simulated air.
//
// It drives a PTX and a PRX engine through a lossy medium, reports link
// statistics, records what went on air and decodes those recordings.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

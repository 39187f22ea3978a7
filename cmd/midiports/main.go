// Command midiports lists the MIDI input and output ports visible to the
// host, so an operator can pick CONTROLLER_NAME / MIDI_INPUT_PORT /
// MIDI_OUTPUT_PORT values for snapblaster-core's .env.
package main

import (
	"fmt"
	"os"

	"snapblaster-core/internal/midiio"
)

func main() {
	ins, outs, err := midiio.ListPorts()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to list MIDI ports:", err)
		os.Exit(1)
	}

	fmt.Println("Input ports:")
	for _, name := range ins {
		fmt.Println(" -", name)
	}
	fmt.Println("Output ports:")
	for _, name := range outs {
		fmt.Println(" -", name)
	}
}

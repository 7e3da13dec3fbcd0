package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skdltmxn/dbgsym/engine"
	"github.com/skdltmxn/dbgsym/variable"
)

var (
	localsExe    string
	localsThread int
	localsFrame  int
	localsArgs   bool
	localsFields bool
)

var localsCmd = &cobra.Command{
	Use:   "locals <core-file>",
	Short: "Print the local variables of a frame in a core dump",
	Long: `Print the local variables of one stack frame of an ELF core dump.

The frame is selected with --thread (default: the first thread) and --frame
(default: the innermost). Use --args to print only the parameters and
--fields to expand the members of structures.`,
	Args: cobra.ExactArgs(1),
	RunE: runLocals,
}

func init() {
	localsCmd.Flags().StringVarP(&localsExe, "exe", "e", "", "symbol file of the dumped executable")
	localsCmd.Flags().IntVarP(&localsThread, "thread", "t", 0, "thread id (0 = first thread)")
	localsCmd.Flags().IntVarP(&localsFrame, "frame", "f", 0, "frame index")
	localsCmd.Flags().BoolVarP(&localsArgs, "args", "a", false, "only show parameters")
	localsCmd.Flags().BoolVar(&localsFields, "fields", false, "expand structure members")
	localsCmd.MarkFlagRequired("exe")
}

func runLocals(cmd *cobra.Command, args []string) error {
	p, err := engine.OpenCore(args[0], localsExe, engineOptions())
	if err != nil {
		return fmt.Errorf("failed to open core: %w", err)
	}
	defer p.Close()
	return printLocals(p, localsThread, localsFrame)
}

func selectFrame(p *engine.Process, tid, index int) (*engine.StackFrame, error) {
	var t *engine.Thread
	if tid != 0 {
		var err error
		if t, err = p.Thread(tid); err != nil {
			return nil, err
		}
	} else {
		threads := p.Threads()
		if len(threads) == 0 {
			return nil, fmt.Errorf("process has no threads")
		}
		t = threads[0]
	}
	frames, err := t.StackTrace()
	if index < 0 || index >= len(frames) {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("thread %d has %d frames, no frame %d", t.ID(), len(frames), index)
	}
	return frames[index], nil
}

func printLocals(p *engine.Process, tid, index int) error {
	f, err := selectFrame(p, tid, index)
	if err != nil {
		return err
	}
	fmt.Fprintf(output, "%s\n", f)

	var vars *variable.Collection
	if localsArgs {
		vars, err = f.Arguments()
	} else {
		vars, err = f.Locals()
	}
	for _, v := range vars.All() {
		printVariable(v, "  ")
	}
	if err != nil {
		fmt.Fprintf(output, "Warning: %v\n", err)
	}
	return nil
}

func printVariable(v *variable.Variable, indent string) {
	fmt.Fprintf(output, "%s%s %s = %s\n", indent, v.Type().Name(), v.Name(), v)
	if !localsFields || !v.Type().IsUDT() {
		return
	}
	names, err := v.Type().FieldNames()
	if err != nil {
		return
	}
	for _, name := range names {
		field, err := v.GetField(name)
		if err != nil {
			fmt.Fprintf(output, "%s  %s = <%v>\n", indent, name, err)
			continue
		}
		printVariable(field, indent+"  ")
	}
}

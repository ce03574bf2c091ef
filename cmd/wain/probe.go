package main

import (
	"fmt"
	"sort"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	wain "github.com/wainlabs/wain"
	"github.com/wainlabs/wain/api"
)

var probeCmd = &cobra.Command{
	Use:   "probe <module.wasm>",
	Short: "List a module's imports and exports without instantiating it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		buf, err := afero.ReadFile(fs, args[0])
		if err != nil {
			return err
		}

		compiled, err := wain.NewRuntime().CompileModule(buf)
		if err != nil {
			return err
		}
		m := compiled.WasmModule()
		out := cmd.OutOrStdout()

		if ns := m.NameSection; ns != nil && ns.ModuleName != "" {
			fmt.Fprintf(out, "module %q\n", ns.ModuleName)
		}
		for _, imp := range m.ImportSection {
			fmt.Fprintf(out, "import %s %s.%s\n", api.ExternTypeName(imp.Type), imp.Module, imp.Name)
		}
		names := make([]string, 0, len(m.ExportSection))
		for name := range m.ExportSection {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			exp := m.ExportSection[name]
			fmt.Fprintf(out, "export %s %s\n", api.ExternTypeName(exp.Type), name)
		}
		return nil
	},
}

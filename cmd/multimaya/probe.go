package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/theodox/multimaya"
)

var probeFlags struct {
	python string
	output string
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Show the interpreter's version and import path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		exe := probeFlags.python
		if exe == "" {
			exe = cfg.Python.Executable
		}

		var interp *multimaya.Interpreter
		var err error
		if exe == "" {
			interp, err = multimaya.InterpreterFromSystem(cmd.Context())
		} else {
			interp, err = multimaya.InterpreterFromExecutable(cmd.Context(), exe)
		}
		if err != nil {
			return err
		}
		if cfg.Python.PoolExecutable != "" {
			interp.PoolExecutable = cfg.Python.PoolExecutable
		}

		switch probeFlags.output {
		case "json":
			enc := json.NewEncoder(console.Out())
			enc.SetIndent("", "  ")
			return enc.Encode(interp)
		case "yaml":
			return yaml.NewEncoder(console.Out()).Encode(interp)
		}

		console.Header("Interpreter")
		console.KeyValue("executable", interp.Executable)
		console.KeyValue("version", interp.Version.String())
		if interp.PoolExecutable != "" {
			console.KeyValue("pool executable", interp.PoolExecutable)
		}
		console.Header("Search path")
		for _, p := range interp.SearchPath {
			console.Println("  " + p)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().StringVar(&probeFlags.python, "python", "", "Interpreter executable (default: python3 on PATH)")
	probeCmd.Flags().StringVarP(&probeFlags.output, "output", "o", "text", "Output format (text, json, yaml)")
}

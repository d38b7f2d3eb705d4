package cmd

import (
	"fmt"

	"github.com/itsmostafa/goverticle/internal/engine"
	"github.com/itsmostafa/goverticle/internal/platform"
	"github.com/itsmostafa/goverticle/internal/verticle"
	"github.com/spf13/cobra"
)

var checkScope string
var checkRoot string
var checkStrict bool

var checkCmd = &cobra.Command{
	Use:   "check <script>",
	Short: "Print the wrapped program for a script",
	Long: `Print the program goverticle evaluates for <script>: the script body inside
its namespace wrapper. Line numbers match the original file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		id := engine.ScopeID(checkScope)
		if id == "" {
			id = engine.Scopes.Next()
		} else if !id.Valid() {
			return fmt.Errorf("invalid scope %q, expected %s<n>", checkScope, engine.ScopePrefix)
		}

		loader, err := verticle.NewDirLoader(checkRoot)
		if err != nil {
			return err
		}
		loader.MaxFileSize = envConfig.MaxScriptSize
		src, err := loader.Load(name)
		if err != nil {
			return err
		}

		f, err := verticle.NewFactory(name, loader,
			verticle.WithStrict(checkStrict),
			verticle.WithExportCacheSize(envConfig.ExportCache),
		)
		if err != nil {
			return err
		}
		defer f.Close()

		p, err := f.Handle().Wrap(string(src), id)
		if err != nil {
			return err
		}
		platform.FormatProgram(cmd.OutOrStdout(), fmt.Sprintf("%s (%s)", name, id), p.Text)
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkScope, "scope", "", "Scope id to wrap with (default: next free id)")
	checkCmd.Flags().StringVar(&checkRoot, "root", envConfig.Root, "Directory scripts are loaded from")
	checkCmd.Flags().BoolVar(&checkStrict, "js-strict", envConfig.JSStrict, "Wrap JavaScript in strict mode")

	rootCmd.AddCommand(checkCmd)
}

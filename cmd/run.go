package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/itsmostafa/goverticle/internal/platform"
	"github.com/itsmostafa/goverticle/internal/verticle"
	"github.com/spf13/cobra"
)

var runInstances int
var runRoot string
var runConf []string
var runStrict bool

var runCmd = &cobra.Command{
	Use:   "run <main>",
	Short: "Deploy a verticle and run until interrupted",
	Long: `Deploy <main> (a .js or .lua file under --root) and keep it running until
SIGINT or SIGTERM, then undeploy it and release the engines.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		main := args[0]
		out := cmd.OutOrStdout()

		conf, err := parseConf(runConf)
		if err != nil {
			return err
		}
		log, err := newLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		loader, err := verticle.NewDirLoader(runRoot)
		if err != nil {
			return err
		}
		loader.MaxFileSize = envConfig.MaxScriptSize

		c := platform.NewContainer(loader,
			platform.WithLogger(log),
			platform.WithConfig(conf),
			platform.WithFactoryOptions(
				verticle.WithStrict(runStrict),
				verticle.WithExportCacheSize(envConfig.ExportCache),
			),
		)

		platform.FormatHeader(out, main, loader.Root, runInstances)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		id, err := c.Deploy(ctx, main, runInstances)
		if err != nil {
			platform.FormatFailed(out, "deploy "+main, err)
			_ = c.Close(context.Background())
			return err
		}
		platform.FormatDeployed(out, id, main)

		<-ctx.Done()

		// The signal context is done; teardown hooks get a fresh one.
		err = c.Undeploy(context.Background(), id)
		platform.FormatUndeployed(out, id, err)
		return c.Close(context.Background())
	},
}

// parseConf turns repeated key=value flags into the vertx.config map.
func parseConf(pairs []string) (map[string]string, error) {
	conf := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --conf %q, expected key=value", p)
		}
		conf[k] = v
	}
	return conf, nil
}

func init() {
	runCmd.Flags().IntVarP(&runInstances, "instances", "n", envConfig.Instances, "Number of instances to deploy")
	runCmd.Flags().StringVar(&runRoot, "root", envConfig.Root, "Directory scripts are loaded from")
	runCmd.Flags().StringArrayVar(&runConf, "conf", nil, "Configuration exposed to scripts as vertx.config (key=value, repeatable)")
	runCmd.Flags().BoolVar(&runStrict, "js-strict", envConfig.JSStrict, "Run JavaScript verticles in strict mode")

	rootCmd.AddCommand(runCmd)
}

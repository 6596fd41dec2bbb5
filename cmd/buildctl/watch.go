package main

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"voxelbuild.ai/internal/buildspec"
	"voxelbuild.ai/internal/config"
	"voxelbuild.ai/internal/errs"
)

// watchCmd rebuilds a spec every time the config file changes. The world
// connection and stores are opened once with the initial config; later
// reloads change compiler, executor and verifier settings only.
func watchCmd(a *app) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "watch <spec>",
		Short: "Build a spec and rebuild it whenever the config file changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.configPath == "" {
				return errors.New("watch needs --config")
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			w, err := config.NewWatcher(a.configPath, config.WithWatchLogger(a.log.Named("config")))
			if err != nil {
				return err
			}
			defer w.Close()

			initial := w.Current()
			if a.worldURL != "" {
				initial.World.URL = a.worldURL
			}
			e, err := a.open(ctx, initial)
			if err != nil {
				return err
			}
			defer e.close()

			reloads := make(chan config.Config, 1)
			w.OnReload(func(cfg config.Config) {
				// keep only the newest pending config
				select {
				case <-reloads:
				default:
				}
				reloads <- cfg
			})
			if err := w.Start(ctx); err != nil {
				return err
			}

			cfg := initial
			for {
				spec, err := buildspec.LoadFile(args[0])
				if err != nil {
					a.log.Error("load spec", zap.Error(err))
				} else {
					err = runBuild(ctx, cmd.OutOrStdout(), e, spec, buildOptions(cfg, key), "")
					switch {
					case err == nil:
						a.log.Info("build verified", zap.String("spec", spec.ID))
					case errs.Has(err, errs.Cancelled):
						return nil
					default:
						a.log.Warn("build failed", zap.Error(err))
					}
				}

				select {
				case <-ctx.Done():
					return nil
				case next := <-reloads:
					if next.World.URL != initial.World.URL && a.worldURL == "" {
						a.log.Warn("world.url changed, restart to reconnect", zap.String("url", next.World.URL))
					}
					cfg = next
				}
			}
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Idempotency key for the first revision")
	return cmd
}

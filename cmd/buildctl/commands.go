package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"voxelbuild.ai/internal/buildloop"
	"voxelbuild.ai/internal/buildspec"
	"voxelbuild.ai/internal/compiler"
	"voxelbuild.ai/internal/config"
	"voxelbuild.ai/internal/geom"
	"voxelbuild.ai/internal/verifier"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}

// parseBBox reads "x1,y1,z1,x2,y2,z2".
func parseBBox(s string) (geom.BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 6 {
		return geom.BBox{}, fmt.Errorf("bbox %q: want x1,y1,z1,x2,y2,z2", s)
	}
	var n [6]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return geom.BBox{}, fmt.Errorf("bbox %q: %w", s, err)
		}
		n[i] = v
	}
	return geom.Box(geom.V(n[0], n[1], n[2]), geom.V(n[3], n[4], n[5])), nil
}

// verifyBBox picks the region to verify: the flag, then the spec's expected
// bbox, then the bbox of the compiled script.
func verifyBBox(flag string, spec buildspec.Spec, cfg config.Config) (geom.BBox, error) {
	if flag != "" {
		return parseBBox(flag)
	}
	if spec.Expected != nil {
		return spec.Expected.BBox.Normalize(), nil
	}
	script, err := compiler.Compile(spec, cfg.CompilerOptions())
	if err != nil {
		return geom.BBox{}, err
	}
	return script.BBox, nil
}

func compileCmd(a *app) *cobra.Command {
	var commandsOnly bool
	cmd := &cobra.Command{
		Use:   "compile <spec>",
		Short: "Compile a spec into a command script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			spec, err := buildspec.LoadFile(args[0])
			if err != nil {
				return err
			}
			script, err := compiler.Compile(spec, cfg.CompilerOptions())
			if err != nil {
				return err
			}
			a.log.Debug("compiled",
				zap.String("spec", spec.ID),
				zap.String("script", script.ID),
				zap.Int("commands", script.Commands))
			if commandsOnly {
				for _, c := range script.CommandList() {
					if _, err := fmt.Fprintln(cmd.OutOrStdout(), c); err != nil {
						return err
					}
				}
				return nil
			}
			return printJSON(cmd.OutOrStdout(), script)
		},
	}
	cmd.Flags().BoolVar(&commandsOnly, "commands", false, "Print only the commands, one per line")
	return cmd
}

func executeCmd(a *app) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "execute <spec>",
		Short: "Compile a spec and execute it against the world",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			spec, err := buildspec.LoadFile(args[0])
			if err != nil {
				return err
			}
			script, err := compiler.Compile(spec, cfg.CompilerOptions())
			if err != nil {
				return err
			}
			e, err := a.open(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.close()

			rep, err := e.exec.Execute(ctx, script, cfg.ExecutorOptions(key))
			if perr := printJSON(cmd.OutOrStdout(), rep); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Idempotency key; a repeated key replays the stored report")
	return cmd
}

func verifyCmd(a *app) *cobra.Command {
	var (
		bbox      string
		threshold float64
		out       string
	)
	cmd := &cobra.Command{
		Use:   "verify <spec>",
		Short: "Compare the world with a spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			spec, err := buildspec.LoadFile(args[0])
			if err != nil {
				return err
			}
			box, err := verifyBBox(bbox, spec, cfg)
			if err != nil {
				return err
			}
			if threshold == 0 {
				threshold = cfg.Verifier.Threshold
			}
			e, err := a.open(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.close()

			res, err := e.ver.Verify(ctx, spec, box, threshold, cfg.Verifier.Policy)
			if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
				return perr
			}
			if err != nil {
				return err
			}
			if out != "" && len(res.PatchOps) > 0 {
				rev := verifier.Repair(spec, res)
				if err := buildspec.WriteFile(out, rev); err != nil {
					return err
				}
				a.log.Info("wrote repaired spec", zap.String("path", out), zap.String("spec", rev.ID))
			}
			if !res.OK {
				return errNotVerified
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&bbox, "bbox", "", "Region to verify as x1,y1,z1,x2,y2,z2")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Match ratio needed to pass, overrides verifier.threshold")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the repaired spec revision here")
	return cmd
}

func buildCmd(a *app) *cobra.Command {
	var (
		key    string
		rounds int
		out    string
	)
	cmd := &cobra.Command{
		Use:   "build <spec>",
		Short: "Execute and verify a spec, repairing until it passes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if rounds > 0 {
				cfg.Build.Rounds = rounds
			}
			spec, err := buildspec.LoadFile(args[0])
			if err != nil {
				return err
			}
			e, err := a.open(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.close()

			return runBuild(ctx, cmd.OutOrStdout(), e, spec, buildOptions(cfg, key), out)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Idempotency key for the first revision")
	cmd.Flags().IntVar(&rounds, "rounds", 0, "Execute and verify passes, overrides build.rounds")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the final spec revision here")
	return cmd
}

func runBuild(ctx context.Context, w io.Writer, e *env, spec buildspec.Spec, opts buildloop.Options, out string) error {
	res, err := e.loop().Run(ctx, spec, opts)
	if perr := printJSON(w, res); perr != nil {
		return perr
	}
	if out != "" && res.Spec.ID != spec.ID {
		if werr := buildspec.WriteFile(out, res.Spec); werr != nil {
			return werr
		}
		e.log.Info("wrote final spec", zap.String("path", out), zap.String("spec", res.Spec.ID))
	}
	if err != nil {
		return err
	}
	if !res.OK {
		return errNotVerified
	}
	return nil
}

func reviseCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "revise <spec> <result.json>",
		Short: "Fold the patch ops of a saved verify result into a new spec revision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := buildspec.LoadFile(args[0])
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			var res verifier.Result
			if err := json.Unmarshal(raw, &res); err != nil {
				return fmt.Errorf("%s: %w", args[1], err)
			}
			rev := verifier.Repair(spec, res)
			if rev.ID == spec.ID {
				a.log.Info("nothing to repair", zap.String("spec", spec.ID))
			}
			if out == "" {
				b, err := buildspec.Encode(rev)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", b)
				return err
			}
			return buildspec.WriteFile(out, rev)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output path (.json, .yaml); stdout when empty")
	return cmd
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"voxelbuild.ai/internal/compiler"
	"voxelbuild.ai/internal/geom"
	"voxelbuild.ai/internal/region"
	"voxelbuild.ai/internal/verifier"
)

// parseVec reads "x,y,z".
func parseVec(s string) (geom.Vec3i, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return geom.Vec3i{}, fmt.Errorf("position %q: want x,y,z", s)
	}
	var n [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return geom.Vec3i{}, fmt.Errorf("position %q: %w", s, err)
		}
		n[i] = v
	}
	return geom.V(n[0], n[1], n[2]), nil
}

func scanCmd(a *app) *cobra.Command {
	var (
		name string
		tags []string
		out  string
	)
	cmd := &cobra.Command{
		Use:   "scan <x1,y1,z1,x2,y2,z2>",
		Short: "Scan a world region into a structure template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			box, err := parseBBox(args[0])
			if err != nil {
				return err
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			e, err := a.open(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.close()

			tmpl, err := e.ver.Scan(ctx, box, name, tags...)
			if err != nil {
				return err
			}
			if out != "" {
				b, err := json.MarshalIndent(tmpl, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, append(b, '\n'), 0o644); err != nil {
					return err
				}
				a.log.Info("wrote template", zap.String("path", out), zap.String("template", tmpl.ID))
			}
			return printJSON(cmd.OutOrStdout(), tmpl)
		},
	}
	cmd.Flags().StringVar(&name, "name", "structure", "Template name")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Template tag, repeatable")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Also write the template to this file")
	return cmd
}

func cloneCmd(a *app) *cobra.Command {
	var (
		mask string
		mode string
		key  string
	)
	cmd := &cobra.Command{
		Use:   "clone <template.json> <x,y,z>",
		Short: "Copy a scanned structure so its minimum corner lands on x,y,z",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var tmpl verifier.Template
			if err := json.Unmarshal(raw, &tmpl); err != nil {
				return fmt.Errorf("template %s: %w", args[0], err)
			}
			dst, err := parseVec(args[1])
			if err != nil {
				return err
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			script, err := compiler.CompileClone(tmpl.CloneSource(), dst, compiler.CloneOptions{
				Mask:             region.CloneMask(mask),
				Mode:             region.CloneMode(mode),
				MaxCommandLength: cfg.Compiler.MaxCommandLength,
			})
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
	cmd.Flags().StringVar(&mask, "mask", string(region.MaskReplace), "replace or masked")
	cmd.Flags().StringVar(&mode, "mode", string(region.ModeForce), "force, move or normal")
	cmd.Flags().StringVar(&key, "key", "", "Idempotency key; a repeated key replays the stored report")
	return cmd
}

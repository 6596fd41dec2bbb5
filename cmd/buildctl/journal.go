package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"voxelbuild.ai/internal/journal"
)

// journalCmd prints journal entries, oldest first, one JSON object per line.
func journalCmd(a *app) *cobra.Command {
	var (
		dir     string
		kind    string
		key     string
		since   time.Duration
		summary bool
	)
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print recorded execution reports and verification results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				cfg, err := a.loadConfig()
				if err != nil {
					return err
				}
				dir = cfg.Journal.Dir
			}
			if dir == "" {
				return errors.New("no journal dir: set journal.dir or pass --dir")
			}
			files, err := journal.Files(dir)
			if err != nil {
				return err
			}
			var cutoff time.Time
			if since > 0 {
				cutoff = time.Now().Add(-since)
			}

			counts := map[string]int{}
			out := cmd.OutOrStdout()
			for _, f := range files {
				entries, err := journal.ReadFile(f)
				if err != nil {
					return err
				}
				for _, e := range entries {
					if (kind != "" && e.Kind != kind) || (key != "" && e.Key != key) || e.Time.Before(cutoff) {
						continue
					}
					if summary {
						counts[e.Kind+" "+outcomeOf(e)]++
						continue
					}
					b, err := json.Marshal(e)
					if err != nil {
						return err
					}
					if _, err := fmt.Fprintf(out, "%s\n", b); err != nil {
						return err
					}
				}
			}
			if summary {
				keys := make([]string, 0, len(counts))
				for k := range counts {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(out, "%-40s %d\n", k, counts[k])
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Journal directory, overrides journal.dir")
	cmd.Flags().StringVar(&kind, "kind", "", "Only entries of this kind (execution, verification)")
	cmd.Flags().StringVar(&key, "key", "", "Only entries for this script or spec id")
	cmd.Flags().DurationVar(&since, "since", 0, "Only entries newer than this")
	cmd.Flags().BoolVar(&summary, "summary", false, "Count entries by kind and outcome instead of printing them")
	return cmd
}

// outcomeOf reads the outcome of an execution or the pass state of a
// verification without decoding the whole payload.
func outcomeOf(e journal.RawEntry) string {
	var p struct {
		Outcome      string `json:"outcome"`
		OK           *bool  `json:"ok"`
		Inconclusive bool   `json:"inconclusive"`
	}
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return "unreadable"
	}
	switch {
	case e.Kind == journal.KindScan:
		return "recorded"
	case p.Outcome != "":
		return p.Outcome
	case p.Inconclusive:
		return "inconclusive"
	case p.OK != nil && *p.OK:
		return "passed"
	case p.OK != nil:
		return "failed"
	}
	return "unknown"
}

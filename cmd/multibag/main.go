// multibag is a command-line tool for working with multibag
// aggregations: splitting a large bag into size-limited member bags,
// restoring the original bag from its members, validating bags against
// the multibag profile, and converting a bag into a single-bag
// aggregation.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	raven "github.com/getsentry/raven-go"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ndlib/multibag/amend"
	"github.com/ndlib/multibag/restore"
	"github.com/ndlib/multibag/split"
	"github.com/ndlib/multibag/validate"
)

type config struct {
	MaxSize    int64  `toml:"maxsize"`
	TargetSize int64  `toml:"targetsize"`
	LogLevel   string `toml:"loglevel"`
	SentryDSN  string `toml:"sentry_dsn"`
}

var (
	cfg        config
	configFile string
)

func loadConfig() error {
	// config file is optional unless named explicitly
	fname := configFile
	if fname == "" {
		fname = "multibag.toml"
		if _, err := os.Stat(fname); os.IsNotExist(err) {
			return nil
		}
	}
	_, err := toml.DecodeFile(fname, &cfg)
	return err
}

func setup(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if cfg.LogLevel != "" {
		level, err := log.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		log.SetLevel(level)
	}
	if cfg.SentryDSN != "" {
		raven.SetDSN(cfg.SentryDSN)
	}
	return nil
}

func main() {
	root := &cobra.Command{
		Use:               "multibag",
		Short:             "split, restore, validate, and convert multibag aggregations",
		PersistentPreRunE: setup,
		SilenceUsage:      true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a multibag.toml config file")

	root.AddCommand(splitCommand())
	root.AddCommand(restoreCommand())
	root.AddCommand(validateCommand())
	root.AddCommand(convertCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func splitCommand() *cobra.Command {
	var (
		maxsize     int64
		targetsize  int64
		neighborly  bool
		namebasis   string
		forhead     []string
		headversion string
		deprecates  []string
	)
	cmd := &cobra.Command{
		Use:   "split BAG OUTDIR",
		Short: "split a bag into size-limited member bags",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxsize == 0 {
				maxsize = cfg.MaxSize
			}
			if targetsize == 0 {
				targetsize = cfg.TargetSize
			}
			if maxsize == 0 {
				return fmt.Errorf("a maximum bag size is required (--max-size or maxsize in config)")
			}

			var splitter split.Splitter
			if neighborly {
				splitter = split.NewNeighborlySplitter(maxsize, targetsize, forhead)
			} else {
				splitter = split.NewWellPackedSplitter(maxsize, targetsize, forhead)
			}

			plan, err := splitter.Plan(args[0], namebasis)
			if err != nil {
				return err
			}
			if headversion != "" {
				plan.HeadVersion = headversion
			}
			for _, d := range deprecates {
				parts := strings.SplitN(d, ",", 2)
				dep := split.Deprecation{Version: strings.TrimSpace(parts[0])}
				if len(parts) > 1 {
					dep.Name = strings.TrimSpace(parts[1])
				}
				plan.Deprecates = append(plan.Deprecates, dep)
			}

			written, err := plan.Apply(args[1])
			if err != nil {
				return err
			}
			for _, bag := range written {
				fmt.Println(bag)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&maxsize, "max-size", 0, "maximum size in bytes of an output bag")
	cmd.Flags().Int64Var(&targetsize, "target-size", 0, "preferred size in bytes of an output bag")
	cmd.Flags().BoolVar(&neighborly, "neighborly", false, "keep files from the same directory together")
	cmd.Flags().StringVar(&namebasis, "name-basis", "", "base name for the output bags")
	cmd.Flags().StringSliceVar(&forhead, "for-head", nil, "bag paths to reserve for the head bag")
	cmd.Flags().StringVar(&headversion, "head-version", "", "version to record in Multibag-Head-Version")
	cmd.Flags().StringSliceVar(&deprecates, "deprecate", nil, "VERSION[,BAGNAME] of a superseded head bag (repeatable)")
	return cmd
}

func restoreCommand() *cobra.Command {
	var cachedir string
	cmd := &cobra.Command{
		Use:   "restore HEADBAG [DESTDIR]",
		Short: "restore a complete bag from its multibag members",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			destdir := ""
			if len(args) > 1 {
				destdir = args[1]
			}
			r, err := restore.NewRestorer(args[0], destdir, cachedir, nil)
			if err != nil {
				return err
			}
			if err := r.Restore(); err != nil {
				return err
			}
			fmt.Println(r.DestDir())
			return nil
		},
	}
	cmd.Flags().StringVar(&cachedir, "cache-dir", "", "directory to search for member bags")
	return cmd
}

func validateCommand() *cobra.Command {
	var (
		asMember bool
		wantName string
	)
	cmd := &cobra.Command{
		Use:   "validate BAG...",
		Short: "check bags against the multibag profile",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			want, err := parseWant(wantName)
			if err != nil {
				return err
			}
			failed := false
			for _, bagpath := range args {
				var results *validate.ValidationResults
				var err error
				if asMember {
					results, err = validate.ValidateMemberBag(bagpath, want)
				} else {
					results, err = validate.ValidateHeadBag(bagpath, want)
				}
				if err != nil {
					return err
				}
				for _, issue := range results.Failed(want) {
					fmt.Println(issue)
				}
				if !results.OK() {
					failed = true
				} else {
					fmt.Printf("%s: OK\n", bagpath)
				}
			}
			if failed {
				return fmt.Errorf("one or more bags failed validation")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asMember, "member", false, "validate as a member bag instead of a head bag")
	cmd.Flags().StringVar(&wantName, "want", "prob", "issue types to check: error, prob, or all")
	return cmd
}

func parseWant(name string) (int, error) {
	switch name {
	case "error":
		return validate.ERROR, nil
	case "prob":
		return validate.PROB, nil
	case "all":
		return validate.ALL, nil
	}
	return 0, fmt.Errorf("unknown issue selection: %s", name)
}

func convertCommand() *cobra.Command {
	var (
		tagdir      string
		headversion string
		pid         string
	)
	cmd := &cobra.Command{
		Use:   "convert BAG",
		Short: "convert a bag into a single-bag aggregation head bag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			maker, err := amend.NewSingleMultibagMaker(args[0], tagdir)
			if err != nil {
				return err
			}
			return maker.Convert(headversion, pid)
		},
	}
	cmd.Flags().StringVar(&tagdir, "tag-dir", "", "name of the multibag tag directory")
	cmd.Flags().StringVar(&headversion, "head-version", "1", "version to record in Multibag-Head-Version")
	cmd.Flags().StringVar(&pid, "pid", "", "persistent identifier to record for the bag")
	return cmd
}

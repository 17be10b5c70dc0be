package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zulandar/edenbot/internal/config"
	"github.com/zulandar/edenbot/internal/creation"
	"github.com/zulandar/edenbot/internal/creation/terminal"
	"github.com/zulandar/edenbot/internal/eden"
)

// gateway is what a one-shot creation needs from the Eden client.
type gateway interface {
	creation.Gateway
	creation.StatsPoster
}

type oneShotOpts struct {
	aspect string
	outDir string
}

func newDreamCmd(g *globalOpts) *cobra.Command {
	var (
		o     oneShotOpts
		large bool
		fast  bool
		seed  int64
	)
	cmd := &cobra.Command{
		Use:   "dream <prompt>",
		Short: "Create one image from a prompt in the terminal",
		Long:  "Submits a text-to-image creation, shows its progress and saves the result to --out.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if seed <= 0 {
				seed = creation.RandomSeed()
			}
			params := creation.DreamParams{
				Prompt: prompt,
				Aspect: creation.ParseAspect(o.aspect),
				Large:  large,
				Fast:   fast,
			}
			return runOneShot(cmd, g, o, creation.StartOpts{
				Header:  creation.DreamHeader(prompt, ""),
				Request: eden.Request{Config: params.Config(seed)},
			})
		},
	}
	addOneShotFlags(cmd, &o)
	cmd.Flags().BoolVar(&large, "large", false, "render at the larger size")
	cmd.Flags().BoolVar(&fast, "fast", false, "use fewer sampling steps")
	cmd.Flags().Int64Var(&seed, "seed", 0, "seed to use (random when unset)")
	return cmd
}

func newLerpCmd(g *globalOpts) *cobra.Command {
	var o oneShotOpts
	cmd := &cobra.Command{
		Use:   "lerp <from prompt> <to prompt>",
		Short: "Interpolate between two prompts in the terminal",
		Long:  "Submits a multi-frame interpolation between two prompts and saves the video to --out.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])
			if from == "" || to == "" {
				return fmt.Errorf("both prompts are required")
			}
			seeds := [2]int64{creation.RandomSeed(), creation.RandomSeed()}
			return runOneShot(cmd, g, o, creation.StartOpts{
				Header:     creation.LerpHeader(from, to, ""),
				Request:    eden.Request{Config: creation.LerpConfig(from, to, creation.ParseAspect(o.aspect), seeds)},
				MultiFrame: true,
			})
		},
	}
	addOneShotFlags(cmd, &o)
	return cmd
}

func addOneShotFlags(cmd *cobra.Command, o *oneShotOpts) {
	cmd.Flags().StringVar(&o.aspect, "aspect", "square", "aspect ratio: square, landscape or portrait")
	cmd.Flags().StringVarP(&o.outDir, "out", "o", ".", "directory to save the result in")
}

func runOneShot(cmd *cobra.Command, g *globalOpts, o oneShotOpts, opts creation.StartOpts) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(g.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()
	client, err := newEdenClient(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	opts.Request.Source = eden.Source{Origin: "terminal", AuthorName: os.Getenv("USER")}
	_, err = createOnce(ctx, client, cmd.OutOrStdout(), o.outDir, newSettings(cfg), logger, opts)
	return err
}

// createOnce runs a single creation drawn on out and returns where its
// artifact was saved.
func createOnce(ctx context.Context, gw gateway, out io.Writer, outDir string, settings creation.Settings, logger *zap.Logger, opts creation.StartOpts) (string, error) {
	r := terminal.New(terminal.Opts{Out: out, OutputDir: outDir})
	c, err := creation.Wiring{
		Gateway:  gw,
		Stats:    gw,
		Settings: settings,
		Logger:   logger,
	}.NewController(r)
	if err != nil {
		return "", err
	}
	opts.Target = creation.Target{ChannelID: "terminal"}
	res, err := c.Start(ctx, opts)
	if err != nil {
		return "", err
	}
	saved := r.Saved()
	if len(saved) == 0 {
		return "", fmt.Errorf("creation %s finished without an artifact", res.TaskID)
	}
	return saved[0], nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/luojun96/ipurge/purge"
	"github.com/luojun96/ipurge/registry"
)

const defaultRegistry = "https://doc.ker.dev.dszn.cz/v2"

const (
	exitOK = iota
	exitUsage
	exitFailure
)

type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return e.err.Error()
}

type options struct {
	registry    string
	insecure    bool
	username    string
	password    string
	concurrency int
	timeout     time.Duration
	output      string
	verbosity   int
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:           "ipurge IMAGE",
		Short:         "Delete every tagged manifest of an image from a Docker registry",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return &usageError{fmt.Errorf("accepts 1 arg, received %d", len(args))}
			}
			return nil
		},
		PreRunE: func(_ *cobra.Command, _ []string) error {
			if o.output != "json" && o.output != "yaml" {
				return &usageError{fmt.Errorf("unsupported output format %q", o.output)}
			}
			return nil
		},
		RunE: func(_ *cobra.Command, args []string) error {
			return runPurge(o, args[0], stdout)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err}
	})

	cmd.Flags().StringVar(&o.registry, "registry", defaultRegistry, "base URL of the registry v2 API")
	cmd.Flags().BoolVar(&o.insecure, "insecure", false, "skip TLS certificate verification")
	cmd.Flags().StringVarP(&o.username, "username", "u", "", "username of the registry")
	cmd.Flags().StringVarP(&o.password, "password", "p", "", "password of the registry")
	cmd.Flags().IntVarP(&o.concurrency, "concurrency", "c", runtime.GOMAXPROCS(0), "maximum number of requests in flight")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 0, "the maximum time allowed to run the purge")
	cmd.Flags().StringVarP(&o.output, "output", "o", "json", "report format, json or yaml")
	cmd.Flags().IntVarP(&o.verbosity, "verbosity", "v", 0, "the log verbosity")
	cmd.Flags().SortFlags = false
	return cmd
}

func runPurge(o *options, image string, stdout io.Writer) error {
	log := logrus.New()
	log.SetOutput(stdout)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if o.verbosity > 0 {
		log.SetLevel(logrus.DebugLevel)
	}

	ctx := context.Background()
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	r := registry.NewRegistry(o.registry, registry.Options{
		InsecureSkipVerify: o.insecure,
		Username:           o.username,
		Password:           o.password,
		Logger:             log,
	})
	if err := r.Ping(ctx); err != nil {
		return errors.Wrapf(err, "failed to ping registry %s", o.registry)
	}

	report, err := purge.NewImagePurge(r, purge.WithConcurrency(o.concurrency), purge.WithLogger(log)).Purge(ctx, image)
	if err != nil {
		return err
	}

	if err := writeReport(stdout, o.output, report.Outcomes); err != nil {
		return errors.Wrap(err, "failed to write report")
	}
	log.Info("Done")
	return nil
}

func writeReport(w io.Writer, format string, outcomes []purge.Outcome) error {
	if outcomes == nil {
		outcomes = []purge.Outcome{}
	}
	var (
		data []byte
		err  error
	)
	switch format {
	case "yaml":
		data, err = yaml.Marshal(outcomes)
	default:
		data, err = json.MarshalIndent(outcomes, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		var ue *usageError
		if errors.As(err, &ue) {
			fmt.Fprintf(stderr, "Error: %v\nUsage: %s\n", err, cmd.UseLine())
			return exitUsage
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}
	return exitOK
}

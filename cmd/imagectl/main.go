// Command imagectl sends one image through the pixelgate API.
//
//	imagectl --email a@b.com --password secret resize --in in.png --out out.png --param width=800
//	imagectl --email a@b.com --password secret pipeline --in in.png --out out.png \
//	    --operations '[{"type":"resize","params":{"width":800}},{"type":"rotate","params":{"angle":90}}]'
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dunamismax/pixelgate/internal/client"
	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

type options struct {
	baseURL    string
	email      string
	password   string
	register   bool
	in         string
	out        string
	params     map[string]string
	operations string
	timeout    time.Duration
	verbose    bool
}

func main() {
	opts := options{}
	flags := flag.NewFlagSet("imagectl", flag.ContinueOnError)
	flags.StringVar(&opts.baseURL, "base-url", envOr("API_BASE_URL", client.DefaultBaseURL), "API base URL")
	flags.StringVar(&opts.email, "email", os.Getenv("PIXELGATE_EMAIL"), "account email")
	flags.StringVar(&opts.password, "password", os.Getenv("PIXELGATE_PASSWORD"), "account password")
	flags.BoolVar(&opts.register, "register", false, "register the account before logging in")
	flags.StringVarP(&opts.in, "in", "i", "", "input image path")
	flags.StringVarP(&opts.out, "out", "o", "", "output image path")
	flags.StringToStringVarP(&opts.params, "param", "p", nil, "operation parameter as key=value (repeatable)")
	flags.StringVar(&opts.operations, "operations", "", "pipeline operations as a JSON array of {type, params}")
	flags.DurationVar(&opts.timeout, "timeout", 60*time.Second, "request timeout")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log each call")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: imagectl [flags] <%s|pipeline>\n", strings.Join(operationNames(), "|"))
		flags.PrintDefaults()
	}

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if opts.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if flags.NArg() != 1 {
		flags.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, logger, flags.Arg(0), opts); err != nil {
		logger.WithError(err).Error("imagectl failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, logger logrus.FieldLogger, operation string, opts options) error {
	if opts.email == "" || opts.password == "" {
		return errors.New("--email and --password are required")
	}
	if opts.in == "" || opts.out == "" {
		return errors.New("--in and --out are required")
	}

	api, err := client.New(client.Config{BaseURL: opts.baseURL, Timeout: opts.timeout})
	if err != nil {
		return err
	}

	if opts.register {
		identity, err := api.Register(ctx, opts.email, opts.password)
		if err != nil {
			return fmt.Errorf("register: %w", err)
		}
		logger.WithField("user_id", identity.UserID).Debug("registered")
	}
	if _, err := api.Login(ctx, opts.email, opts.password); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	input, err := os.ReadFile(sanitizePath(opts.in))
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	var result client.Image
	if operation == "pipeline" {
		var steps []client.Step
		if err := json.Unmarshal([]byte(opts.operations), &steps); err != nil {
			return fmt.Errorf("parse --operations: %w", err)
		}
		result, err = api.Pipeline(ctx, opts.in, input, steps)
	} else {
		op, ok := domain.ParseOperationType(operation)
		if !ok {
			return &domain.UnknownOperationError{Type: operation}
		}
		result, err = api.Process(ctx, string(op), opts.in, input, opts.params)
	}
	if err != nil {
		return err
	}

	outPath := sanitizePath(opts.out)
	if err := os.WriteFile(outPath, result.Data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"operation":    operation,
		"content_type": result.ContentType,
		"bytes":        len(result.Data),
		"path":         outPath,
	}).Info("image saved")
	return nil
}

// sanitizePath strips one pair of surrounding quotes.
func sanitizePath(p string) string {
	p = strings.TrimSpace(p)
	if len(p) >= 2 && (p[0] == '"' || p[0] == '\'') && p[len(p)-1] == p[0] {
		return p[1 : len(p)-1]
	}
	return p
}

func operationNames() []string {
	names := make([]string, 0, len(domain.OperationTypes))
	for _, op := range domain.OperationTypes {
		names = append(names, string(op))
	}
	return names
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

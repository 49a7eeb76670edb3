// friendrelay is a presence-aware friend relay. Clients authenticate over
// Noise or TLS, then exchange short colon-separated commands to manage
// their friend lists, see which mutual friends are online and pass
// messages to them.
//
// Usage:
//
//	friendrelay --config /etc/friendrelay.yaml
//	friendrelay --genkey server.key
//
// SIGINT or SIGTERM saves the friend graph and stops the relay. A failed
// save makes the process exit non-zero.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/opd-ai/friendrelay/config"
	"github.com/opd-ai/friendrelay/server"
	"github.com/opd-ai/friendrelay/transport"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	listen     string
	adminAddr  string
	logLevel   string
	logFormat  string
	genKey     string
	pubKey     string
}

func parseFlags(args []string) (*options, error) {
	var opts options

	flagSet := pflag.NewFlagSet("friendrelay", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file")
	flagSet.StringVar(&opts.listen, "listen", "", "address to accept clients on (overrides config)")
	flagSet.StringVar(&opts.adminAddr, "admin", "", "address of the read-only admin endpoint (overrides config)")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	flagSet.StringVar(&opts.logFormat, "log-format", "", "log format: text or json (overrides config)")
	flagSet.StringVar(&opts.genKey, "genkey", "", "write a new Noise private key to this path, print its public key and exit")
	flagSet.StringVar(&opts.pubKey, "pubkey", "", "print the public key of the Noise private key at this path and exit")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if flagSet.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", flagSet.Args())
	}
	return &opts, nil
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	switch {
	case opts.genKey != "":
		return generateKey(os.Stdout, opts.genKey)
	case opts.pubKey != "":
		return printPublicKey(os.Stdout, opts.pubKey)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if err := cfg.Log.Apply(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := server.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	if closer, ok := st.(io.Closer); ok {
		defer closer.Close()
	}

	auth, err := server.NewAuthenticator(cfg.Transport)
	if err != nil {
		return err
	}

	srv, err := server.New(ctx, cfg, st, auth)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

func loadConfig(opts *options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if opts.listen != "" {
		cfg.Listen = opts.listen
	}
	if opts.adminAddr != "" {
		cfg.Admin.Listen = opts.adminAddr
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func generateKey(w io.Writer, path string) error {
	kp, err := transport.GenerateKeyPair()
	if err != nil {
		return err
	}
	if err := transport.SaveKeyPair(path, kp); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "generateKey",
		"path":     path,
	}).Info("Generated Noise key pair")

	_, err = fmt.Fprintln(w, transport.EncodeKey(kp.Public))
	return err
}

func printPublicKey(w io.Writer, path string) error {
	kp, err := transport.LoadKeyPair(path)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, transport.EncodeKey(kp.Public))
	return err
}

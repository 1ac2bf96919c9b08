package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/aaronjense/pi-iotAWS-rf24Mesh/internal/infrastructure/config"
)

// configEnv names the environment variable holding the config file path.
const configEnv = "MESHBRIDGE_CONFIG"

// usageError marks command-line and configuration mistakes.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// ExitCode returns 2, the conventional status for usage errors.
func (usageError) ExitCode() int { return 2 }

// cliOptions holds parsed command-line flags. Only flags that were set on
// the command line override the configuration.
type cliOptions struct {
	configPath string
	version    bool
	help       bool

	host         string
	port         int
	certDir      string
	publishCount int

	set map[string]bool
}

// parseFlags parses args with the original short flags kept:
//
//	-h, --host           MQTT broker host
//	-p, --port           MQTT broker port
//	-c, --cert-dir       directory holding rootCA.crt, cert.pem and privkey.pem
//	-x, --publish-count  stop after this many publishes (0 = unlimited)
//
// -h selects the host, so help is only available as --help.
func parseFlags(args []string) (*cliOptions, error) {
	opts := &cliOptions{set: make(map[string]bool)}

	flagSet := pflag.NewFlagSet("meshbridge", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.host, "host", "h", "", "MQTT broker host")
	flagSet.IntVarP(&opts.port, "port", "p", 0, "MQTT broker port")
	flagSet.StringVarP(&opts.certDir, "cert-dir", "c", "", "certificate directory")
	flagSet.IntVarP(&opts.publishCount, "publish-count", "x", 0, "publishes before exiting (0 = unlimited)")
	flagSet.StringVar(&opts.configPath, "config", "", "configuration file (env "+configEnv+")")
	flagSet.BoolVar(&opts.version, "version", false, "print version and exit")
	flagSet.BoolVar(&opts.help, "help", false, "show help")
	flagSet.SortFlags = false

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			opts.help = true
			return opts, nil
		}
		return nil, usageError{err}
	}
	if opts.help {
		fmt.Fprintf(flagSet.Output(), "Usage: meshbridge [flags]\n\n%s", flagSet.FlagUsages())
		return opts, nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, usageError{fmt.Errorf("unexpected argument: %s", rest[0])}
	}
	if opts.publishCount < 0 {
		return nil, usageError{fmt.Errorf("--publish-count must not be negative, got %d", opts.publishCount)}
	}

	flagSet.Visit(func(f *pflag.Flag) { opts.set[f.Name] = true })

	if opts.configPath == "" {
		opts.configPath = os.Getenv(configEnv)
	}
	if opts.configPath == "" {
		opts.configPath = config.DefaultPath
	}
	return opts, nil
}

// apply overrides cfg with the flags given on the command line.
func (o *cliOptions) apply(cfg *config.Config) {
	if o.set["host"] {
		cfg.MQTT.Broker.Host = o.host
	}
	if o.set["port"] {
		cfg.MQTT.Broker.Port = o.port
	}
	if o.set["cert-dir"] {
		cfg.MQTT.Certs.Directory = o.certDir
	}
	if o.set["publish-count"] {
		cfg.Bridge.PublishCount = o.publishCount
	}
}

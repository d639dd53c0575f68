package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/olgasafonova/mediawiki-api-go/wiki"
)

// exitConflict is the exit status when pages changed during a query.
const exitConflict = 3

// exitError carries a non-default process exit status.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

// options are the flags shared by every subcommand.
type options struct {
	url       string
	wikipedia string
	params    []string
	verbose   bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "mwquery",
		Short: "Continuation-aware MediaWiki API queries",
		Long: `mwquery runs MediaWiki Action API requests and follows continuation.

Commands:
  mwquery pages            - Query pages, merging continued fragments per page
  mwquery iterate <action> - Print the result of every continued response
  mwquery call <action>    - Make a single request and print the whole response

Parameters are passed with -p key=value and may be repeated. Repeating a key
sends the values joined with |. A bare -p key sends key=1.

Environment variables:
  MEDIAWIKI_URL                          - API endpoint (or --url / --wikipedia)
  MEDIAWIKI_USERNAME, MEDIAWIKI_PASSWORD - Bot credentials, login on first call
  MEDIAWIKI_MAXLAG                       - maxlag sent with every request (default 30, 0 disables)

Examples:
  mwquery --wikipedia en pages -p titles=Go -p 'prop=info|categories'
  mwquery --wikipedia en iterate query -p list=allpages -p aplimit=max --max-responses 3`,
		Version: version,
		// main prints errors and picks the exit status
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVar(&opts.url, "url", "", "API endpoint (overrides MEDIAWIKI_URL)")
	pf.StringVar(&opts.wikipedia, "wikipedia", "", "Use the Wikipedia edition for this language code, e.g. en")
	pf.StringArrayVarP(&opts.params, "param", "p", nil, "API parameter as key=value (repeatable)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Log requests to stderr")

	root.AddCommand(newPagesCmd(opts))
	root.AddCommand(newIterateCmd(opts))
	root.AddCommand(newCallCmd(opts))
	return root
}

// newClient builds a client from the environment and the global flags.
func (o *options) newClient(cmd *cobra.Command) (*wiki.Client, error) {
	endpoint := o.url
	if endpoint == "" && o.wikipedia != "" {
		endpoint = wiki.WikipediaURL(o.wikipedia)
	}
	config, err := wiki.LoadConfigWithURL(endpoint)
	if err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return wiki.NewClient(config, logger), nil
}

// parseParams turns repeated key=value flags into API parameters.
func parseParams(raw []string) (wiki.Params, error) {
	params := make(wiki.Params, len(raw))
	values := make(map[string][]string)

	for _, kv := range raw {
		key, value, found := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", kv)
		}
		if !found {
			delete(values, key)
			params[key] = true
			continue
		}
		values[key] = append(values[key], value)
	}

	for key, vals := range values {
		if len(vals) == 1 {
			params[key] = vals[0]
		} else {
			params[key] = vals
		}
	}
	return params, nil
}

// newEncoder writes one JSON document per line.
func newEncoder(cmd *cobra.Command) *json.Encoder {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	return enc
}

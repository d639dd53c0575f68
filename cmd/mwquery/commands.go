package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/olgasafonova/mediawiki-api-go/wiki"
)

func newPagesCmd(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "pages",
		Short: "Query pages and print each merged page as a JSON line",
		Long: `Run action=query and print every page once, after all of its continued
fragments have been merged.

Pages that were edited while the query ran are not printed. They are reported
on stderr and the command exits with status 3 after all other pages.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(opts.params)
			if err != nil {
				return err
			}
			client, err := opts.newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			enc := newEncoder(cmd)
			count := 0
			for page, err := range client.QueryPages(cmd.Context(), params) {
				if err != nil {
					var conflict *wiki.ModificationConflictError
					if errors.As(err, &conflict) {
						return &exitError{code: exitConflict, err: err}
					}
					return err
				}
				if err := enc.Encode(page); err != nil {
					return err
				}
				count++
				if limit > 0 && count >= limit {
					break
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many pages (0 = all)")
	return cmd
}

func newIterateCmd(opts *options) *cobra.Command {
	var maxResponses int

	cmd := &cobra.Command{
		Use:   "iterate <action>",
		Short: "Follow continuation and print each response's result as a JSON line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(opts.params)
			if err != nil {
				return err
			}
			client, err := opts.newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			enc := newEncoder(cmd)
			responses := 0
			for result, err := range client.Iterate(cmd.Context(), args[0], params) {
				if err != nil {
					return err
				}
				if err := enc.Encode(result); err != nil {
					return err
				}
				responses++
				if maxResponses > 0 && responses >= maxResponses {
					break
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxResponses, "max-responses", 0, "Stop after this many responses (0 = until exhausted)")
	return cmd
}

func newCallCmd(opts *options) *cobra.Command {
	var post, https bool

	cmd := &cobra.Command{
		Use:   "call <action>",
		Short: "Make a single API request and print the whole response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(opts.params)
			if err != nil {
				return err
			}
			client, err := opts.newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			var callOpts []wiki.CallOption
			if post {
				callOpts = append(callOpts, wiki.WithPost())
			}
			if https {
				callOpts = append(callOpts, wiki.WithHTTPS())
			}

			resp, err := client.Call(cmd.Context(), args[0], params, callOpts...)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			enc := newEncoder(cmd)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
	cmd.Flags().BoolVar(&post, "post", false, "Send the request as POST")
	cmd.Flags().BoolVar(&https, "https", false, "Force https for this request")
	return cmd
}

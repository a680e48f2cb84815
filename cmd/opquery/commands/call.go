package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opquery-io/opquery/pkg/opquery"
)

// NewCallCommand creates the call command
func NewCallCommand() *cobra.Command {
	var (
		paramPairs  []string
		queryPairs  []string
		bodyJSON    string
		promptAuth  bool
		noInvalidat bool
	)

	cmd := &cobra.Command{
		Use:   "call OPERATION_ID",
		Short: "Call an operation",
		Long: `Call one operation by operationId.

GET operations run as one-shot queries; every other method runs as a
mutation and fans out cache invalidation afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if promptAuth && viper.GetString("token") == "" {
				token, err := promptToken()
				if err != nil {
					return err
				}

				viper.Set("token", token)
			}

			api, err := createAPI(ctx)
			if err != nil {
				return err
			}

			id := opquery.OperationID(args[0])

			params, err := parseParams(paramPairs)
			if err != nil {
				return err
			}

			query, err := parseParams(queryPairs)
			if err != nil {
				return err
			}

			var body any
			if bodyJSON != "" {
				if err := json.Unmarshal([]byte(bodyJSON), &body); err != nil {
					return fmt.Errorf("parsing request body: %w", err)
				}
			}

			isQuery, err := api.IsQueryOperation(id)
			if err != nil {
				return err
			}

			var requestOpts *opquery.RequestOptions
			if len(query) > 0 {
				requestOpts = &opquery.RequestOptions{Query: query}
			}

			var result any

			if isQuery {
				handle, err := api.Query(id, opquery.StaticParams(params), &opquery.QueryOptions{
					Request: requestOpts,
				})
				if err != nil {
					return err
				}
				defer handle.Close()

				fetched, err := handle.Refetch(ctx)
				if err != nil {
					return err
				}

				if fetched.IsError() {
					return fetched.Err
				}

				result = fetched.Data
			} else {
				handle, err := api.Mutation(id, opquery.StaticParams(params), &opquery.MutationOptions{
					DontInvalidate: noInvalidat,
					Request:        requestOpts,
				})
				if err != nil {
					return err
				}
				defer handle.Close()

				if _, err := handle.MutateAsync(ctx, &opquery.MutateRequest{Data: body}); err != nil {
					return err
				}

				result = handle.Data().Get()
			}

			output := viper.GetString("output")
			switch output {
			case OutputFormatYAML:
				return renderStructured(output, result)
			default:
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")

				return encoder.Encode(result)
			}
		},
	}

	cmd.Flags().StringArrayVarP(&paramPairs, "param", "p", nil, "path parameter as name=value (repeatable)")
	cmd.Flags().StringArrayVarP(&queryPairs, "query", "q", nil, "query parameter as name=value (repeatable)")
	cmd.Flags().StringVarP(&bodyJSON, "data", "d", "", "request body as JSON")
	cmd.Flags().BoolVar(&promptAuth, "prompt-token", false, "prompt for a bearer token when none is configured")
	cmd.Flags().BoolVar(&noInvalidat, "no-invalidate", false, "skip post-mutation cache invalidation")

	return cmd
}

package commands

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opquery-io/opquery/pkg/opquery"
)

// NewOperationsCommand creates the operations command group
func NewOperationsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "operations",
		Aliases: []string{"ops"},
		Short:   "Inspect the operation registry",
		Long:    "List and describe the operations indexed from the OpenAPI document",
	}

	cmd.AddCommand(newOperationsListCommand())
	cmd.AddCommand(newOperationsDescribeCommand())

	return cmd
}

func newOperationsListCommand() *cobra.Command {
	var methodFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List operations",
		Long:  "List every registered operation with its method and path template",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry()
			if err != nil {
				return err
			}

			type row struct {
				ID     string `json:"operation_id" yaml:"operation_id"`
				Method string `json:"method"       yaml:"method"`
				Path   string `json:"path"         yaml:"path"`
				Kind   string `json:"kind"         yaml:"kind"`
			}

			rows := make([]row, 0, reg.Len())

			for _, id := range reg.OperationIDs() {
				info, _ := reg.Lookup(id)

				if methodFilter != "" && !strings.EqualFold(info.Method, methodFilter) {
					continue
				}

				kind := opquery.KindMutation
				if isQuery, _ := reg.IsQueryOperation(id); isQuery {
					kind = opquery.KindQuery
				}

				rows = append(rows, row{
					ID:     string(id),
					Method: info.Method,
					Path:   info.Path,
					Kind:   kind.String(),
				})
			}

			output := viper.GetString("output")
			switch output {
			case OutputFormatJSON, OutputFormatYAML:
				return renderStructured(output, rows)
			default:
				if len(rows) == 0 {
					fmt.Println("No operations found")

					return nil
				}

				table := tablewriter.NewWriter(os.Stdout)
				table.Header("Operation", "Method", "Path", "Kind")

				for _, r := range rows {
					_ = table.Append(r.ID, r.Method, r.Path, r.Kind)
				}

				return table.Render()
			}
		},
	}

	cmd.Flags().StringVar(&methodFilter, "method", "", "only show operations with this HTTP method")

	return cmd
}

func newOperationsDescribeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "describe OPERATION_ID",
		Short: "Describe one operation",
		Long:  "Show the method, path template, kind, and enum metadata of one operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry()
			if err != nil {
				return err
			}

			id := opquery.OperationID(args[0])

			info, ok := reg.Lookup(id)
			if !ok {
				return fmt.Errorf("%w: %q", opquery.ErrUnknownOperation, id)
			}

			isQuery, _ := reg.IsQueryOperation(id)

			kind := opquery.KindMutation
			if isQuery {
				kind = opquery.KindQuery
			}

			output := viper.GetString("output")
			switch output {
			case OutputFormatJSON, OutputFormatYAML:
				return renderStructured(output, map[string]any{
					"operation_id": string(id),
					"method":       info.Method,
					"path":         info.Path,
					"kind":         kind.String(),
					"enums":        info.Enums,
				})
			default:
				table := tablewriter.NewWriter(os.Stdout)
				table.Header("Property", "Value")
				_ = table.Append("Operation", string(id))
				_ = table.Append("Method", info.Method)
				_ = table.Append("Path", info.Path)
				_ = table.Append("Kind", kind.String())

				names := make([]string, 0, len(info.Enums))
				for name := range info.Enums {
					names = append(names, name)
				}

				sort.Strings(names)

				for _, name := range names {
					_ = table.Append("Enum "+name, strings.Join(info.Enums[name], ", "))
				}

				return table.Render()
			}
		},
	}
}

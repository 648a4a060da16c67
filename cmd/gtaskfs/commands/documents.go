package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/gtaskfs/internal/docfs"
	"github.com/agentworkforce/gtaskfs/internal/taskdoc"
)

func newReadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "read ADDRESS | LIST_ID TASK_ID",
		Short: "Print a task as a JSON document",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := resolveAddress(args)
			if err != nil {
				return err
			}
			content, err := a.provider.Read(cmd.Context(), address)
			if err != nil {
				return documentError(a, "read", address, err)
			}
			a.printer.Raw(content)
			return nil
		},
	}
}

func newWriteCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "write ADDRESS | LIST_ID TASK_ID",
		Short: "Submit a JSON document to the task",
		Long: `Submit a JSON document to the task. The document is read from --file,
or from standard input when --file is omitted or "-".`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := resolveAddress(args)
			if err != nil {
				return err
			}
			content, err := readInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			if err := a.provider.Write(cmd.Context(), address, content); err != nil {
				return documentError(a, "write", address, err)
			}
			a.printer.Success("Saved %s", address)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "document file (default stdin)")
	return cmd
}

func newStatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stat ADDRESS | LIST_ID TASK_ID",
		Short: "Show document metadata",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := resolveAddress(args)
			if err != nil {
				return err
			}
			stat := a.provider.Stat(address)
			a.printer.Info("address:  %s", address)
			a.printer.Info("type:     %s", fileTypeName(stat.Type))
			a.printer.Info("modified: %s", time.UnixMilli(stat.Mtime).UTC().Format(time.RFC3339))
			a.printer.Info("size:     %d", stat.Size)
			return nil
		},
	}
}

func newAddressCmd(a *app) *cobra.Command {
	var decode bool
	cmd := &cobra.Command{
		Use:   "address LIST_ID TASK_ID | --decode ADDRESS",
		Short: "Encode or decode a document address",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if decode {
				if len(args) != 1 {
					return fmt.Errorf("--decode takes exactly one address")
				}
				addr, err := taskdoc.Decode(args[0])
				if err != nil {
					return fmt.Errorf("invalid address %q: %w", args[0], err)
				}
				fmt.Fprintf(out, "list: %s\ntask: %s\n", addr.ListID, addr.TaskID)
				return nil
			}
			if len(args) != 2 {
				return fmt.Errorf("expected LIST_ID TASK_ID")
			}
			fmt.Fprintln(out, taskdoc.Encode(args[0], args[1]))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&decode, "decode", "d", false, "decode an address into its ids")
	return cmd
}

func newSchemaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema for task documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if _, err := out.Write(bytes.TrimRight(taskdoc.SchemaSource(), "\n")); err != nil {
				return err
			}
			_, err := fmt.Fprintln(out)
			return err
		},
	}
}

func readInput(stdin io.Reader, file string) ([]byte, error) {
	if file == "" || file == "-" {
		content, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return content, nil
	}
	content, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	return content, nil
}

// writeFields submits a document built from fields through the provider so
// that the usual refresh and change events follow.
func writeFields(a *app, cmd *cobra.Command, address string, fields map[string]any) error {
	content, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	if err := a.provider.Write(cmd.Context(), address, content); err != nil {
		return documentError(a, "write", address, err)
	}
	return nil
}

func documentError(a *app, op, address string, err error) error {
	code, _ := docfs.CodeOf(err)
	switch code {
	case docfs.CodeFileNotFound:
		return a.printer.Error(
			fmt.Sprintf("document not found: %s", address),
			err.Error(),
			[]string{"addresses look like gtask-json:/<list>/<task>.json", "build one with: gtaskfs address LIST_ID TASK_ID"},
		)
	case docfs.CodeUnavailable:
		return a.printer.Error(
			fmt.Sprintf("cannot %s %s", op, address),
			err.Error(),
			[]string{"check that a token is configured", "check the document is a JSON object with valid field types"},
		)
	case docfs.CodeRemoteFailure:
		return a.printer.Error(
			fmt.Sprintf("Google Tasks rejected the %s", op),
			err.Error(),
			[]string{"re-run with --log-level debug for details"},
		)
	}
	return err
}

func fileTypeName(t docfs.FileType) string {
	switch t {
	case docfs.FileTypeFile:
		return "file"
	case docfs.FileTypeDirectory:
		return "directory"
	}
	return "unknown"
}

package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/lambdakit/internal/control"
	"github.com/vietddude/lambdakit/internal/infra/awsinfra"
)

var (
	listPrefix  string
	putType     string
	putPartSize int64
)

var objectsCmd = &cobra.Command{
	Use:   "objects",
	Short: "Read and write S3 objects through the retrying adapters",
}

var objectsListCmd = &cobra.Command{
	Use:   "list <bucket>",
	Short: "List objects of a bucket",
	Args:  cobra.ExactArgs(1),
	RunE:  runObjectsList,
}

var objectsGetCmd = &cobra.Command{
	Use:   "get <bucket> <key>",
	Short: "Write an object to stdout",
	Args:  cobra.ExactArgs(2),
	RunE:  runObjectsGet,
}

var objectsPutCmd = &cobra.Command{
	Use:   "put <s3://bucket/key> <file|->",
	Short: "Upload a file, or stdin, to S3",
	Args:  cobra.ExactArgs(2),
	RunE:  runObjectsPut,
}

func init() {
	objectsListCmd.Flags().StringVar(&listPrefix, "prefix", "", "only list keys with this prefix")
	objectsPutCmd.Flags().StringVar(&putType, "content-type", "", "content type of the object")
	objectsPutCmd.Flags().Int64Var(&putPartSize, "part-size", awsinfra.DefaultPartSize, "multipart part size in bytes")
	objectsCmd.AddCommand(objectsListCmd, objectsGetCmd, objectsPutCmd)
	rootCmd.AddCommand(objectsCmd)
}

func newApp(cmd *cobra.Command) (*control.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return control.New(cmd.Context(), cfg)
}

func runObjectsList(cmd *cobra.Command, args []string) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	objects, err := app.Objects().ListObjects(cmd.Context(), args[0], listPrefix)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tSIZE\tMODIFIED")
	for _, obj := range objects {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", obj.Key, obj.Size, obj.LastModified.Format(time.RFC3339))
	}
	return w.Flush()
}

func runObjectsGet(cmd *cobra.Command, args []string) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	obj, err := app.Objects().GetObject(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	defer func() {
		_ = obj.Close()
	}()

	_, err = io.Copy(cmd.OutOrStdout(), obj)
	return err
}

func runObjectsPut(cmd *cobra.Command, args []string) error {
	dst, err := awsinfra.ParseS3Object(args[0])
	if err != nil {
		return err
	}
	if putPartSize < awsinfra.MinPartSize {
		return fmt.Errorf("part size must be at least %d bytes", awsinfra.MinPartSize)
	}

	var src io.Reader = cmd.InOrStdin()
	if args[1] != "-" {
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer func() {
			_ = f.Close()
		}()
		src = f
	}

	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	store := app.Objects().With(awsinfra.WithPartSize(putPartSize))
	if err := store.Upload(cmd.Context(), dst, src, putType); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s\n", dst)
	return nil
}

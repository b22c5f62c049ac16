package assets

import (
	"github.com/spf13/cobra"

	"github.com/portfolio-assets/assets-go/common/objstore"
	"github.com/portfolio-assets/assets-go/ctl/internal/cmdfmt"
	"github.com/portfolio-assets/assets-go/ctl/pkg/ctl/assets"
)

func NewListCmd() *cobra.Command {
	prefix := ""
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the objects in the bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			objects, err := assets.ListObjects(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			tbl := cmdfmt.NewPrintomatic(
				[]string{"key", "size", "content_type", "cache_control", "etag", "last_modified"},
				[]string{"key", "size", "last_modified"},
			)
			for _, o := range objects {
				tbl.AddItem(o.Key, formatBytes(o.Size), o.ContentType, o.CacheControl, o.ETag, o.LastModified.Format("2006-01-02 15:04:05"))
			}
			tbl.PrintRemaining()
			if len(objects) == 0 {
				cmdfmt.Printf("The bucket is empty\n")
				return nil
			}
			cmdfmt.Printf("Total: %d objects | %s\n", len(objects), formatBytes(objstore.TotalSize(objects)))
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only list keys starting with this prefix.")
	return cmd
}

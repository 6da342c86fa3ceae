package main

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/colfam/storescan/progress"
	"github.com/colfam/storescan/scanner"
	"github.com/colfam/storescan/scanspec"
	"github.com/colfam/storescan/sstable"
	"github.com/colfam/storescan/storage"
	"github.com/colfam/storescan/store"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan <column-family-dir>",
	Short: "Run a user scan over every segment file in a column family directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().String("start-row", "", "inclusive start row")
	scanCmd.Flags().String("stop-row", "", "exclusive stop row")
	scanCmd.Flags().StringSlice("columns", nil, "explicit family:qualifier columns to match (repeatable)")
	scanCmd.Flags().Int("max-versions", 1, "maximum versions per column")
	scanCmd.Flags().Bool("raw", false, "surface tombstones and expired cells instead of hiding them")
	scanCmd.Flags().Int64("ttl-millis", 0, "cell TTL in milliseconds, 0 for no expiry")
	scanCmd.Flags().Int("limit", 0, "stop after this many cells, 0 for unlimited")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	dir := args[0]
	ctx := context.Background()

	startRow, _ := cmd.Flags().GetString("start-row")
	stopRow, _ := cmd.Flags().GetString("stop-row")
	columns, _ := cmd.Flags().GetStringSlice("columns")
	maxVersions, _ := cmd.Flags().GetInt("max-versions")
	raw, _ := cmd.Flags().GetBool("raw")
	ttlMillis, _ := cmd.Flags().GetInt64("ttl-millis")
	limit, _ := cmd.Flags().GetInt("limit")

	cfs := store.New(dir)
	names, err := segmentFileNames(ctx, dir)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := cfs.OpenStoreFile(ctx, storage.JoinPath(dir, name)); err != nil {
			return fmt.Errorf("open %s: %w", name, err)
		}
	}

	scan := &scanspec.Scan{
		StartRow:          []byte(startRow),
		StopRow:           []byte(stopRow),
		StartRowInclusive: true,
		MaxVersions:       maxVersions,
		StoreLimit:        -1,
		Raw:               raw,
	}
	if len(columns) > 0 {
		scan.Columns = make(map[string]struct{}, len(columns))
		for _, col := range columns {
			family, qualifier, ok := strings.Cut(col, ":")
			if !ok {
				return fmt.Errorf("invalid column %q, want family:qualifier", col)
			}
			scan.Columns[family+"\x00"+qualifier] = struct{}{}
		}
	}

	info := &scanspec.Info{TTLMillis: ttlMillis, MinVersions: 0}

	ss, err := scanner.NewUserScan(ctx, cfs, scan, info, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("start scan: %w", err)
	}
	defer ss.Close()

	prog := progress.New(progress.Limits{}, progress.Limits{})

	emitted := 0
	for {
		var out []*sstable.Cell
		state, err := ss.Next(ctx, &out, prog)
		for _, c := range out {
			fmt.Printf("%s/%s:%s/%d/%s = %s\n",
				formatBytes(c.Row), formatBytes(c.Family), formatBytes(c.Qualifier),
				c.Timestamp, c.Type, formatBytes(c.Value))
			emitted++
			if limit > 0 && emitted >= limit {
				fmt.Printf("Total: %d cells (limit reached)\n", emitted)
				return nil
			}
		}
		if shipErr := ss.Shipped(ctx); shipErr != nil {
			return shipErr
		}
		if err != nil {
			return err
		}
		if state == progress.NoMoreValues {
			break
		}
	}
	fmt.Printf("Total: %d cells\n", emitted)
	return nil
}

func segmentFileNames(ctx context.Context, dir string) ([]string, error) {
	fsys, err := storage.OpenDir(ctx, dir)
	if err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/propedge/propedge/internal/metrics"
	"github.com/propedge/propedge/internal/store"
)

// storeCmd groups snapshot store operations
var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect and manage feature snapshots",
}

var storeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.Store) error {
			ids, err := st.ListSnapshots(ctx)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		})
	},
}

var storeInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show storage footprint",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.Store) error {
			info, err := st.GetStorageInfo(ctx)
			if err != nil {
				return err
			}
			return printJSON(info)
		})
	},
}

var storeMetadataCmd = &cobra.Command{
	Use:   "metadata <snapshot-id>",
	Short: "Show snapshot metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.Store) error {
			meta, err := st.GetMetadata(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(meta)
		})
	},
}

var storeSchemaCmd = &cobra.Command{
	Use:   "schema <snapshot-id>",
	Short: "Show snapshot column schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.Store) error {
			schema, err := st.GetSchema(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(schema)
		})
	},
}

var storeStatsCmd = &cobra.Command{
	Use:   "stats <snapshot-id>",
	Short: "Show per-column statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.Store) error {
			stats, err := st.GetStatistics(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(stats)
		})
	},
}

var storeDeleteCmd = &cobra.Command{
	Use:   "delete <snapshot-id>",
	Short: "Delete a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.Store) error {
			if err := st.DeleteSnapshot(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(storeCmd)
	storeCmd.AddCommand(storeListCmd, storeInfoCmd, storeMetadataCmd, storeSchemaCmd, storeStatsCmd, storeDeleteCmd)
}

func withStore(fn func(context.Context, *store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := newStore(cfg, metrics.NewRegistry())
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(context.Background(), st)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

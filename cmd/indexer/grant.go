package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/searcher/permission"
	pkgredis "github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/redis"
)

var grantOldVersions bool

var grantCmd = &cobra.Command{
	Use:   "grant NODE_ID PRINCIPAL LEVEL",
	Short: "Set the access level of a principal on a node",
	Long: `grant stores the access a principal has on a node in the node_access
table the search service resolves permissions from. LEVEL is one of denied,
see, preview, open or openminor. Use the principal "everyone" for access
granted to all users. When redis is enabled the search result cache is
flushed, because cached results were filtered with the old access.`,
	Args: cobra.ExactArgs(3),
	RunE: runGrant,
}

func init() {
	grantCmd.Flags().BoolVar(&grantOldVersions, "old-versions", false, "also allow viewing old versions")
	rootCmd.AddCommand(grantCmd)
}

func runGrant(cmd *cobra.Command, args []string) error {
	nodeID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || nodeID <= 0 {
		return fmt.Errorf("node id must be a positive integer, got %q", args[0])
	}
	level, err := permission.ParseAccessLevel(args[2])
	if err != nil {
		return err
	}
	pg, err := openPostgres()
	if err != nil {
		return err
	}
	if pg == nil {
		return errors.New("grant needs postgres.enabled")
	}
	defer pg.Close()

	ctx := cmd.Context()
	resolver, err := permission.NewPostgresResolver(ctx, pg, nil)
	if err != nil {
		return err
	}
	var results invalidator
	if cfg.Redis.Enabled {
		rc, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("connecting to the search cache: %w", err)
		}
		defer rc.Close()
		results = cache.New(rc, cfg.Redis.CacheTTL, nil)
	}
	access := permission.Access{Level: level, MayViewOldVersions: grantOldVersions}
	if err := grantAccess(ctx, resolver, results, nodeID, args[1], access); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "granted %s on node %d to %s\n", level, nodeID, args[1])
	return nil
}

type granter interface {
	Grant(ctx context.Context, nodeID int64, principal string, a permission.Access) error
}

type invalidator interface {
	Invalidate(ctx context.Context) error
}

// grantAccess stores the access and then drops cached search results, so
// no user keeps seeing hits the new access no longer allows. results may
// be nil when no cache is configured.
func grantAccess(ctx context.Context, g granter, results invalidator, nodeID int64, principal string, a permission.Access) error {
	if err := g.Grant(ctx, nodeID, principal, a); err != nil {
		return err
	}
	if results == nil {
		return nil
	}
	if err := results.Invalidate(ctx); err != nil {
		return fmt.Errorf("access granted but cached search results were kept until they expire: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/passbi/passbi_optimizer/internal/cache"
	"github.com/passbi/passbi_optimizer/internal/config"
	"github.com/passbi/passbi_optimizer/internal/density"
	"github.com/passbi/passbi_optimizer/internal/gateway"
	"github.com/passbi/passbi_optimizer/internal/logging"
	"github.com/passbi/passbi_optimizer/internal/models"
	"github.com/passbi/passbi_optimizer/internal/routing"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ZoneScanner is what the commands need from the scoring components
type ZoneScanner interface {
	IdentifyHighDemandZones(ctx context.Context, bounds models.Bounds, gridSize int) ([]models.Zone, error)
	SuggestNewRoute(ctx context.Context, bounds models.Bounds, vehicleType string) (models.Suggestion, error)
}

type scanner struct {
	*density.Analyzer
	optimizer *routing.Optimizer
}

func (s scanner) SuggestNewRoute(ctx context.Context, bounds models.Bounds, vehicleType string) (models.Suggestion, error) {
	return s.optimizer.SuggestNewRoute(ctx, bounds, vehicleType)
}

type areaFlags struct {
	swLat, swLng float64
	neLat, neLng float64
	timeout      time.Duration
}

func (f *areaFlags) bounds() (models.Bounds, error) {
	sw, err := models.NewGeoPoint(f.swLat, f.swLng)
	if err != nil {
		return models.Bounds{}, fmt.Errorf("southwest corner: %w", err)
	}
	ne, err := models.NewGeoPoint(f.neLat, f.neLng)
	if err != nil {
		return models.Bounds{}, fmt.Errorf("northeast corner: %w", err)
	}
	return models.NewBounds(sw, ne)
}

// newScanner wires the provider client, the optional cache and the scoring
// components from the environment
func newScanner() (ZoneScanner, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}

	client := gateway.NewClient(cfg.Provider, logger.Named("gateway"))
	store, err := cache.NewStore(cfg.Cache)
	if err != nil {
		return nil, nil, err
	}
	var places density.Gateway = client
	if store != nil {
		places = cache.NewCachedGateway(client, store, cfg.Cache.TTL, logger.Named("cache"))
	}

	analyzer := density.NewAnalyzer(places, logger.Named("density"))
	optimizer, err := routing.NewOptimizer(client, analyzer, cfg.Scoring, logger.Named("routing"))
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		_ = logger.Sync()
		if store != nil && store.Name() == "redis" {
			cache.Close()
		}
	}
	logger.Debug("zone scanner ready", zap.String("cache", cfg.Cache.Backend))
	return scanner{Analyzer: analyzer, optimizer: optimizer}, cleanup, nil
}

// newRootCmd builds the CLI. build is called once per command run.
func newRootCmd(build func() (ZoneScanner, func(), error)) *cobra.Command {
	flags := &areaFlags{}

	rootCmd := &cobra.Command{
		Use:   "zonescan",
		Short: "Scans an area for high-demand zones and proposes new transit lines",
		Long: `zonescan scores a grid of cells over a bounding box by the density of
points of interest around each cell, reports the high-demand cells and
proposes a new line through the busiest ones.`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.Float64Var(&flags.swLat, "sw-lat", 0, "Southwest corner latitude")
	pf.Float64Var(&flags.swLng, "sw-lng", 0, "Southwest corner longitude")
	pf.Float64Var(&flags.neLat, "ne-lat", 0, "Northeast corner latitude")
	pf.Float64Var(&flags.neLng, "ne-lng", 0, "Northeast corner longitude")
	pf.DurationVar(&flags.timeout, "timeout", 5*time.Minute, "Overall time limit for the scan")
	for _, name := range []string{"sw-lat", "sw-lng", "ne-lat", "ne-lng"} {
		_ = rootCmd.MarkPersistentFlagRequired(name)
	}

	run := func(cmd *cobra.Command, fn func(ctx context.Context, s ZoneScanner, b models.Bounds) (interface{}, error)) error {
		b, err := flags.bounds()
		if err != nil {
			return err
		}

		s, cleanup, err := build()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
		defer cancel()

		out, err := fn(ctx, s, b)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), out)
	}

	var gridSize int
	zonesCmd := &cobra.Command{
		Use:   "zones",
		Short: "List the high-demand cells of the area, busiest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, s ZoneScanner, b models.Bounds) (interface{}, error) {
				zones, err := s.IdentifyHighDemandZones(ctx, b, gridSize)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"grid_size":   gridSize,
					"zones_found": len(zones),
					"zones":       zones,
				}, nil
			})
		},
	}
	zonesCmd.Flags().IntVar(&gridSize, "grid", density.DefaultGridSize, "Cells per side of the scan grid")

	var vehicleType string
	suggestCmd := &cobra.Command{
		Use:   "suggest",
		Short: "Propose a new line through the high-demand cells of the area",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, s ZoneScanner, b models.Bounds) (interface{}, error) {
				return s.SuggestNewRoute(ctx, b, vehicleType)
			})
		},
	}
	suggestCmd.Flags().StringVar(&vehicleType, "vehicle", "bus", "Vehicle type of the proposed line")

	rootCmd.AddCommand(zonesCmd, suggestCmd)
	return rootCmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

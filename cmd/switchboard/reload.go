package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/switchboard/pkg/planstore"
	"github.com/jingkaihe/switchboard/pkg/presenter"
	"github.com/jingkaihe/switchboard/pkg/registry"
)

var reloadRegistryCmd = &cobra.Command{
	Use:   "reload-registry",
	Short: "Load and validate agent definitions and record the new registry version",
	Long: `Load every agent and skill source, validate the result, and record it as the
next registry version in the plan store. Nothing is recorded when validation
fails or the content is unchanged since the last recorded version.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		sources, err := registrySources(cfg.Registry)
		if err != nil {
			return err
		}
		reg, err := registry.Load(ctx, sources...)
		if err != nil {
			return err
		}

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		latest, err := store.Registries(ctx, 1)
		if err != nil {
			return err
		}

		rec := planstore.RecordOf(reg)
		rec.Version = 1
		if len(latest) > 0 {
			if latest[0].Digest == rec.Digest {
				presenter.Info(fmt.Sprintf("Registry unchanged (version %d, %d agents)", latest[0].Version, rec.Agents))
				return nil
			}
			rec.Version = latest[0].Version + 1
		}

		if err := store.RecordRegistry(ctx, rec); err != nil {
			return err
		}
		presenter.Success(fmt.Sprintf("Registry version %d loaded: %d agents, %d skills", rec.Version, rec.Agents, rec.Skills))
		return nil
	},
}

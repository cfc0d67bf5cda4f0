package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mudforge/driver/internal/config"
	"github.com/mudforge/driver/internal/store"
)

var snapshotOut string

func init() {
	snapshotCmd.Flags().StringVar(&snapshotOut, "out", "", "write the snapshot to this file instead of stdout")
	rootCmd.AddCommand(snapshotCmd)
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Dump the current persisted world, players, and permissions as JSON",
	RunE:  runSnapshot,
}

type snapshotDoc struct {
	World       json.RawMessage            `json:"world,omitempty"`
	Permissions json.RawMessage            `json:"permissions,omitempty"`
	Players     map[string]json.RawMessage `json:"players"`
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	var s store.Store
	switch cfg.Persistence.Adapter {
	case "remote":
		s, err = store.NewRemote(ctx, cfg.Persistence.RemoteStoreURL)
	default:
		s, err = store.NewEmbedded(cfg.Persistence.DataPath)
	}
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	doc := snapshotDoc{Players: map[string]json.RawMessage{}}

	if world, ok, err := s.LoadWorld(ctx); err != nil {
		return err
	} else if ok {
		doc.World = world
	}

	if perms, ok, err := s.LoadPermissions(ctx); err != nil {
		return err
	} else if ok {
		doc.Permissions = perms
	}

	names, err := s.ListPlayers(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		payload, ok, err := s.LoadPlayer(ctx, name)
		if err != nil {
			return err
		}
		if ok {
			doc.Players[name] = payload
		}
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	if snapshotOut == "" {
		fmt.Println(string(out))
		return nil
	}
	return os.WriteFile(snapshotOut, out, 0o644)
}

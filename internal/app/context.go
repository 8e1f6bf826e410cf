// Package app resolves the working org and its configuration from, in order,
// an explicit flag, a workspace config file, and the stored org config.
package app

import (
	"context"
	"fmt"

	"lexline/internal/config"
	"lexline/internal/repo"
)

type Resolved struct {
	OrgID  string
	Config *config.Config
}

func ResolveOrgAndConfig(ctx context.Context, r repo.Repo, orgFlag, configPath string) (Resolved, error) {
	cfg, err := config.LoadOptional(configPath)
	if err != nil {
		return Resolved{}, err
	}
	orgID := orgFlag
	if orgID == "" && cfg != nil {
		orgID = cfg.Org.ID
	}
	if orgID == "" {
		return Resolved{}, fmt.Errorf("no org resolved: pass --org or add org.id to %s", config.Path(configPath))
	}
	if cfg == nil {
		stored, err := r.GetOrgConfig(ctx, orgID)
		if err != nil && err != repo.ErrNotFound {
			return Resolved{}, err
		}
		cfg = stored
	}
	if cfg == nil {
		cfg = config.Default(orgID)
	}
	if cfg.Org.ID == "" {
		cfg.Org.ID = orgID
	}
	if err := cfg.Validate(); err != nil {
		return Resolved{}, err
	}
	return Resolved{OrgID: orgID, Config: cfg}, nil
}

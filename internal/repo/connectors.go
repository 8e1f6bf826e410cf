package repo

import (
	"context"
	"database/sql"

	"lexline/internal/domain"
)

const connectorCols = `id,org_id,connector_type,name,status,config,metadata,last_synced_at,last_error,created_at,updated_at`

func scanConnector(sc rowScanner) (domain.Connector, error) {
	var c domain.Connector
	var cfg, metadata, lastSynced, lastError sql.NullString
	err := sc.Scan(&c.ID, &c.OrgID, &c.ConnectorType, &c.Name, &c.Status, &cfg, &metadata, &lastSynced, &lastError, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Config = mapFromColumn(cfg)
	c.Metadata = mapFromColumn(metadata)
	c.LastSyncedAt = strPtr(lastSynced)
	c.LastError = strPtr(lastError)
	return c, nil
}

// UpsertConnector inserts a connector or, when (org, type, name) already
// exists, refreshes its status, config and metadata. Returns the stored row.
func (r Repo) UpsertConnector(ctx context.Context, c domain.Connector) (domain.Connector, error) {
	existing, err := r.GetConnectorByKey(ctx, c.OrgID, c.ConnectorType, c.Name)
	if err != nil && err != ErrNotFound {
		return domain.Connector{}, err
	}
	cfg, merr := jsonColumn(c.Config)
	if merr != nil {
		return domain.Connector{}, merr
	}
	metadata, merr := jsonColumn(c.Metadata)
	if merr != nil {
		return domain.Connector{}, merr
	}
	if err == ErrNotFound {
		_, ierr := r.DB.ExecContext(ctx, `INSERT INTO connectors(`+connectorCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			c.ID, c.OrgID, c.ConnectorType, c.Name, c.Status, cfg, metadata,
			nullableStringPtr(c.LastSyncedAt), nullableStringPtr(c.LastError), c.CreatedAt, c.UpdatedAt)
		if ierr != nil {
			return domain.Connector{}, ierr
		}
		return r.GetConnector(ctx, c.ID)
	}
	_, uerr := r.DB.ExecContext(ctx,
		`UPDATE connectors SET status=?, config=?, metadata=?, last_synced_at=?, last_error=?, updated_at=? WHERE id=?`,
		c.Status, cfg, metadata, nullableStringPtr(c.LastSyncedAt), nullableStringPtr(c.LastError), c.UpdatedAt, existing.ID)
	if uerr != nil {
		return domain.Connector{}, uerr
	}
	return r.GetConnector(ctx, existing.ID)
}

func (r Repo) GetConnector(ctx context.Context, id string) (domain.Connector, error) {
	return scanConnector(r.DB.QueryRowContext(ctx, `SELECT `+connectorCols+` FROM connectors WHERE id=?`, id))
}

func (r Repo) GetConnectorByKey(ctx context.Context, orgID, connectorType, name string) (domain.Connector, error) {
	return scanConnector(r.DB.QueryRowContext(ctx,
		`SELECT `+connectorCols+` FROM connectors WHERE org_id=? AND connector_type=? AND name=?`, orgID, connectorType, name))
}

func (r Repo) ListConnectors(ctx context.Context, orgID string) ([]domain.Connector, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+connectorCols+` FROM connectors WHERE org_id=? ORDER BY connector_type, name`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Connector
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// UpdateConnectorStatus sets a connector's status and optional error marker.
func (r Repo) UpdateConnectorStatus(ctx context.Context, id, status string, lastError *string, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE connectors SET status=?, last_error=?, updated_at=? WHERE id=?`,
		status, nullableStringPtr(lastError), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

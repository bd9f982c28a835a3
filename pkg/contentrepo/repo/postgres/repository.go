package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/content-odata/pkg/contentrepo"
)

//go:embed schema.sql
var schemaSQL string

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// beginner is implemented by pools, connections and transactions.
type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository implements contentrepo.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) contentrepo.Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) contentrepo.Repository {
	return &Repository{db: pool}
}

// Migrate creates the nodes table and its indexes when missing.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate nodes schema: %w", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", operation, contentrepo.ErrContentAlreadyExists)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: parent %w", operation, contentrepo.ErrContentNotFound)
		case "23502": // not_null_violation
			return fmt.Errorf("%s: required field %s is missing", operation, pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return contentrepo.ErrContentNotFound
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

// inTx runs fn in a transaction when the handle supports one.
func (r *Repository) inTx(ctx context.Context, fn func(db DBTX) error) error {
	b, ok := r.db.(beginner)
	if !ok {
		return fn(r.db)
	}
	tx, err := b.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const nodeColumns = `id, COALESCE(parent_id, 0), name, path, type_name, version, idx,
	created_by_id, modified_by_id, owner_id, creation_date, modification_date, properties`

func scanNode(row pgx.Row) (*contentrepo.Node, error) {
	var n contentrepo.Node
	var props []byte
	err := row.Scan(&n.ID, &n.ParentID, &n.Name, &n.Path, &n.TypeName, &n.Version, &n.Index,
		&n.CreatedByID, &n.ModifiedByID, &n.OwnerID, &n.CreationDate, &n.ModificationDate, &props)
	if err != nil {
		return nil, err
	}
	if len(props) > 0 {
		if err := json.Unmarshal(props, &n.Properties); err != nil {
			return nil, fmt.Errorf("decode properties of node %d: %w", n.ID, err)
		}
		if len(n.Properties) == 0 {
			n.Properties = nil
		}
	}
	n.CreationDate = n.CreationDate.UTC()
	n.ModificationDate = n.ModificationDate.UTC()
	return &n, nil
}

func encodeProperties(props map[string]any) ([]byte, error) {
	if props == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(props)
}

func nullableID(id int) any {
	if id == 0 {
		return nil
	}
	return id
}

func (r *Repository) CreateNode(ctx context.Context, node *contentrepo.Node) error {
	props, err := encodeProperties(node.Properties)
	if err != nil {
		return fmt.Errorf("encode properties: %w", err)
	}

	return r.inTx(ctx, func(db DBTX) error {
		if node.ID != 0 {
			query := `
				INSERT INTO nodes (
					id, parent_id, name, path, type_name, version, idx,
					created_by_id, modified_by_id, owner_id, creation_date, modification_date, properties
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
			_, err := db.Exec(ctx, query,
				node.ID, nullableID(node.ParentID), node.Name, node.Path, node.TypeName, node.Version, node.Index,
				node.CreatedByID, node.ModifiedByID, node.OwnerID, node.CreationDate, node.ModificationDate, props)
			if err != nil {
				return r.handlePostgresError("create node", err)
			}
			// keep the sequence ahead of explicitly assigned ids
			_, err = db.Exec(ctx, `SELECT setval(pg_get_serial_sequence('nodes', 'id'), GREATEST((SELECT MAX(id) FROM nodes), 1))`)
			if err != nil {
				return r.handlePostgresError("create node", err)
			}
			return nil
		}

		query := `
			INSERT INTO nodes (
				parent_id, name, path, type_name, version, idx,
				created_by_id, modified_by_id, owner_id, creation_date, modification_date, properties
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id`
		err := db.QueryRow(ctx, query,
			nullableID(node.ParentID), node.Name, node.Path, node.TypeName, node.Version, node.Index,
			node.CreatedByID, node.ModifiedByID, node.OwnerID, node.CreationDate, node.ModificationDate, props).Scan(&node.ID)
		if err != nil {
			return r.handlePostgresError("create node", err)
		}
		return nil
	})
}

func (r *Repository) GetNode(ctx context.Context, id int) (*contentrepo.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE id = $1`
	n, err := scanNode(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, r.handlePostgresError("get node", err)
	}
	return n, nil
}

func (r *Repository) GetNodeByPath(ctx context.Context, path string) (*contentrepo.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE path = $1`
	n, err := scanNode(r.db.QueryRow(ctx, query, path))
	if err != nil {
		return nil, r.handlePostgresError("get node by path", err)
	}
	return n, nil
}

// UpdateNode stores the node's fields. Parent, name and path are changed
// through MoveNode only.
func (r *Repository) UpdateNode(ctx context.Context, node *contentrepo.Node) error {
	props, err := encodeProperties(node.Properties)
	if err != nil {
		return fmt.Errorf("encode properties: %w", err)
	}

	query := `
		UPDATE nodes SET
			type_name = $2, version = $3, idx = $4, created_by_id = $5, modified_by_id = $6,
			owner_id = $7, creation_date = $8, modification_date = $9, properties = $10
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query,
		node.ID, node.TypeName, node.Version, node.Index, node.CreatedByID, node.ModifiedByID,
		node.OwnerID, node.CreationDate, node.ModificationDate, props)
	if err != nil {
		return r.handlePostgresError("update node", err)
	}
	if tag.RowsAffected() == 0 {
		return contentrepo.ErrContentNotFound
	}
	return nil
}

// subtreeCondition matches a path and everything below it.
const subtreeCondition = `(path = $1 OR left(path, length($1) + 1) = $1 || '/')`

func (r *Repository) DeleteNode(ctx context.Context, id int) ([]*contentrepo.Node, error) {
	var removed []*contentrepo.Node
	err := r.inTx(ctx, func(db DBTX) error {
		node, err := scanNode(db.QueryRow(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return r.handlePostgresError("delete node", err)
		}

		rows, err := db.Query(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE `+subtreeCondition+` AND id <> $2 ORDER BY id`, node.Path, id)
		if err != nil {
			return r.handlePostgresError("delete node", err)
		}
		removed, err = collectNodes(rows)
		if err != nil {
			return r.handlePostgresError("delete node", err)
		}
		removed = append([]*contentrepo.Node{node}, removed...)

		if _, err := db.Exec(ctx, `DELETE FROM nodes WHERE id = $1`, id); err != nil {
			return r.handlePostgresError("delete node", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (r *Repository) MoveNode(ctx context.Context, id, newParentID int, newName string) (*contentrepo.Node, error) {
	var moved *contentrepo.Node
	err := r.inTx(ctx, func(db DBTX) error {
		node, err := scanNode(db.QueryRow(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return r.handlePostgresError("move node", err)
		}
		var parentPath string
		if err := db.QueryRow(ctx, `SELECT path FROM nodes WHERE id = $1`, newParentID).Scan(&parentPath); err != nil {
			return r.handlePostgresError("move node", err)
		}
		newPath := contentrepo.JoinPath(parentPath, newName)

		_, err = db.Exec(ctx, `
			UPDATE nodes SET path = $2 || substr(path, length($1) + 1)
			WHERE `+subtreeCondition, node.Path, newPath)
		if err != nil {
			return r.handlePostgresError("move node", err)
		}
		_, err = db.Exec(ctx, `UPDATE nodes SET parent_id = $2, name = $3 WHERE id = $1`, id, newParentID, newName)
		if err != nil {
			return r.handlePostgresError("move node", err)
		}

		moved, err = scanNode(db.QueryRow(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = $1`, id))
		if err != nil {
			return r.handlePostgresError("move node", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

func (r *Repository) ListNodes(ctx context.Context, query contentrepo.NodeQuery) ([]*contentrepo.Node, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + nodeColumns + ` FROM nodes WHERE `)
	args := []any{query.ParentPath}
	if query.Recursive {
		sb.WriteString(`left(path, length($1) + 1) = $1 || '/'`)
	} else {
		sb.WriteString(`parent_id = (SELECT id FROM nodes WHERE path = $1)`)
	}
	if len(query.Types) > 0 {
		args = append(args, query.Types)
		sb.WriteString(` AND type_name = ANY($2)`)
	}
	sb.WriteString(` ORDER BY id`)

	rows, err := r.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, r.handlePostgresError("list nodes", err)
	}
	nodes, err := collectNodes(rows)
	if err != nil {
		return nil, r.handlePostgresError("list nodes", err)
	}
	return nodes, nil
}

func (r *Repository) NameExists(ctx context.Context, parentID int, name string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM nodes WHERE parent_id = $1 AND name = $2)`, parentID, name).Scan(&exists)
	if err != nil {
		return false, r.handlePostgresError("name exists", err)
	}
	return exists, nil
}

func collectNodes(rows pgx.Rows) ([]*contentrepo.Node, error) {
	defer rows.Close()
	nodes := []*contentrepo.Node{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

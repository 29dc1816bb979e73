package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MariaSnapshotRepo реализует SnapshotRepo для MariaDB/MySQL.
// Использует таблицу inventory_snapshots.
type MariaSnapshotRepo struct {
	db *sql.DB
}

// NewMariaSnapshotRepo подключается к базе и создаёт таблицу, если её нет.
//
// Параметры:
//
//	dsn - строка подключения к базе данных (user:pass@tcp(host:port)/dbname?parseTime=true)
func NewMariaSnapshotRepo(ctx context.Context, dsn string) (*MariaSnapshotRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	repo := NewMariaSnapshotRepoWithDB(db)
	if err := repo.createTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}
	return repo, nil
}

// NewMariaSnapshotRepoWithDB использует открытое соединение; таблица должна существовать
func NewMariaSnapshotRepoWithDB(db *sql.DB) *MariaSnapshotRepo {
	return &MariaSnapshotRepo{db: db}
}

func (r *MariaSnapshotRepo) createTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS inventory_snapshots (
			inventory_id VARCHAR(128) PRIMARY KEY,
			data         LONGBLOB     NOT NULL,
			saved_at     TIMESTAMP(3) NOT NULL,
			INDEX idx_saved_at (saved_at)
		) ENGINE=InnoDB
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ошибка создания таблицы inventory_snapshots: %w", err)
	}
	return nil
}

// Save использует INSERT ... ON DUPLICATE KEY UPDATE для перезаписи снимка
func (r *MariaSnapshotRepo) Save(ctx context.Context, rec *InventoryRecord) (err error) {
	if err := validateRecord(rec); err != nil {
		return err
	}
	ctx, span := startSpan(ctx, "mariadb", "save", rec.ID)
	defer func() { endSpan(span, err) }()

	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO inventory_snapshots (inventory_id, data, saved_at)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			data = VALUES(data),
			saved_at = VALUES(saved_at)
	`
	if _, err = r.db.ExecContext(ctx, query, rec.ID, data, rec.SavedAt); err != nil {
		return fmt.Errorf("ошибка сохранения снимка %s: %w", rec.ID, err)
	}
	return nil
}

func (r *MariaSnapshotRepo) Load(ctx context.Context, id string) (rec *InventoryRecord, err error) {
	ctx, span := startSpan(ctx, "mariadb", "load", id)
	defer func() { endSpan(span, err) }()

	var data []byte
	err = r.db.QueryRowContext(ctx,
		`SELECT data FROM inventory_snapshots WHERE inventory_id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки снимка %s: %w", id, err)
	}
	return decodeRecord(id, data)
}

func (r *MariaSnapshotRepo) Delete(ctx context.Context, id string) (err error) {
	ctx, span := startSpan(ctx, "mariadb", "delete", id)
	defer func() { endSpan(span, err) }()

	result, err := r.db.ExecContext(ctx, `DELETE FROM inventory_snapshots WHERE inventory_id = ?`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления снимка %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения количества затронутых строк: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	return nil
}

func (r *MariaSnapshotRepo) List(ctx context.Context) (ids []string, err error) {
	ctx, span := startSpan(ctx, "mariadb", "list", "")
	defer func() { endSpan(span, err) }()

	rows, err := r.db.QueryContext(ctx, `SELECT inventory_id FROM inventory_snapshots ORDER BY inventory_id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения списка снимков: %w", err)
	}
	defer rows.Close()

	ids = []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка чтения строки: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close закрывает соединение с базой данных
func (r *MariaSnapshotRepo) Close() error {
	return r.db.Close()
}

package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

// 每个房间落盘后的文档快照。按 (room_name, version) 唯一，
// 重复落同一个版本视为已完成而不是错误。
type SnapshotStore struct{ db *sql.DB }

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) SaveDocumentSnapshot(ctx context.Context, roomName string, version int, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO document_snapshots (room_name, version, content)
		VALUES (?, ?, ?)`,
		roomName,
		version,
		content,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil
		}
		return err
	}
	return nil
}

func (s *SnapshotStore) LoadLatestSnapshot(ctx context.Context, roomName string) (content string, version int, found bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT content, version FROM document_snapshots
		WHERE room_name = ? ORDER BY version DESC LIMIT 1`,
		roomName,
	).Scan(&content, &version)
	if err == sql.ErrNoRows {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	return content, version, true, nil
}

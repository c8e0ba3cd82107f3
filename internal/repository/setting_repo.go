package repository

import (
	"context"
	"fmt"
)

type SettingRepository struct {
	db DBTX
}

func NewSettingRepository(db DBTX) *SettingRepository {
	return &SettingRepository{db: db}
}

// GetValues 读取指定 key 的配置，不存在的 key 不出现在结果中
func (r *SettingRepository) GetValues(ctx context.Context, keys ...string) (map[string]string, error) {
	rows, err := r.db.Query(ctx, `SELECT key, value FROM system_settings WHERE key = ANY($1)`, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to query system settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string, len(keys))
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan system setting: %w", err)
		}
		values[k] = v
	}
	return values, rows.Err()
}

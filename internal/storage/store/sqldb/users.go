package sqldb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/LeJamon/goXRPLtracker/internal/storage/store"
	"github.com/LeJamon/goXRPLtracker/internal/tracker"
)

type userRepo struct{ c *conn }

func (r *userRepo) GetUsers(ctx context.Context) ([]tracker.UserConfig, error) {
	rows, err := r.c.x.QueryContext(ctx, `SELECT id, wallets FROM users ORDER BY id`)
	if err != nil {
		return nil, store.NewQueryError("get_users", "failed to query users", err)
	}
	defer rows.Close()

	var users []tracker.UserConfig
	for rows.Next() {
		var u tracker.UserConfig
		var wallets string
		if err := rows.Scan(&u.ID, &wallets); err != nil {
			return nil, store.NewQueryError("get_users", "failed to scan user row", err)
		}
		if err := json.Unmarshal([]byte(wallets), &u.Wallets); err != nil {
			return nil, store.NewQueryError("get_users",
				fmt.Sprintf("corrupt wallet list for user %s", u.ID), err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewQueryError("get_users", "error iterating user rows", err)
	}
	return users, nil
}

// PutUsers replaces the whole user set atomically.
func (r *userRepo) PutUsers(ctx context.Context, users []tracker.UserConfig) error {
	return r.c.atomically(ctx, "put_users", func(x executor) error {
		if _, err := x.ExecContext(ctx, `DELETE FROM users`); err != nil {
			return store.NewQueryError("put_users", "failed to clear users", err)
		}
		insert := r.c.q(`INSERT INTO users (id, wallets) VALUES (?, ?)`)
		for _, u := range users {
			wallets, err := json.Marshal(u.Wallets)
			if err != nil {
				return store.NewQueryError("put_users",
					fmt.Sprintf("failed to encode wallets for user %s", u.ID), err)
			}
			if _, err := x.ExecContext(ctx, insert, u.ID, string(wallets)); err != nil {
				return store.NewQueryError("put_users",
					fmt.Sprintf("failed to insert user %s", u.ID), err)
			}
		}
		return nil
	})
}

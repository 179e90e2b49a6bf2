package schema_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockside/warehouse/backend/internal/schema"
	"github.com/dockside/warehouse/backend/internal/testdb"
)

func TestEnsureIsIdempotent(t *testing.T) {
	pool := testdb.New(t)
	require.NoError(t, schema.Ensure(context.Background(), pool))
}

func TestSeedSuperAdmins(t *testing.T) {
	pool := testdb.New(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `INSERT INTO accounts (subject, email) VALUES ('sub-9', 'lead@dockside.example')`)
	require.NoError(t, err)

	require.NoError(t, schema.SeedSuperAdmins(ctx, pool, []string{" Lead@Dockside.example ", "", "root@dockside.example"}))
	require.NoError(t, schema.SeedSuperAdmins(ctx, pool, nil))

	rows, err := pool.Query(ctx, `SELECT email, role, approved FROM accounts ORDER BY email`)
	require.NoError(t, err)
	defer rows.Close()

	type account struct {
		email    string
		role     string
		approved bool
	}
	var got []account
	for rows.Next() {
		var a account
		require.NoError(t, rows.Scan(&a.email, &a.role, &a.approved))
		got = append(got, a)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []account{
		{email: "lead@dockside.example", role: "super_admin", approved: true},
		{email: "root@dockside.example", role: "super_admin", approved: true},
	}, got)
}

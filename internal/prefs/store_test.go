package prefs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakeQuerier struct {
	queryRowSQL  string
	queryRowArgs []any
	row          fakeRow

	execSQL  string
	execArgs []any
	execErr  error
}

func (q *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	q.queryRowSQL = sql
	q.queryRowArgs = args
	return q.row
}

func (q *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.execSQL = sql
	q.execArgs = args
	return pgconn.NewCommandTag("EXEC 1"), q.execErr
}

func strPtr(s string) *string { return &s }

func TestStore_Get_MissingRecord(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{scan: func(dest ...any) error { return pgx.ErrNoRows }}}
	store := NewStoreWithQuerier(q)

	rec, err := store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Nil(t, rec, "missing record reads as nil, nil")
	assert.Equal(t, []any{"user-1"}, q.queryRowArgs)
}

func TestStore_Get_PopulatesRecord(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	q := &fakeQuerier{row: fakeRow{scan: func(dest ...any) error {
		*(dest[0].(*string)) = "user-1"
		*(dest[1].(**string)) = strPtr("Sam")
		*(dest[2].(**string)) = strPtr("Rivera")
		*(dest[3].(**string)) = strPtr("sam@example.com")
		*(dest[4].(*time.Time)) = created
		*(dest[5].(**string)) = strPtr("Paris")
		return nil
	}}}
	store := NewStoreWithQuerier(q)

	rec, err := store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "user-1", rec.UserID)
	assert.Equal(t, "Sam", *rec.FirstName)
	assert.Equal(t, "sam@example.com", rec.Email)
	assert.Equal(t, "Paris", *rec.LastCity)
	assert.Equal(t, created, rec.CreatedAt)
}

func TestStore_Get_QueryFailure(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{scan: func(dest ...any) error { return errors.New("broken pipe") }}}
	store := NewStoreWithQuerier(q)

	rec, err := store.Get(context.Background(), "user-1")
	require.Error(t, err)
	assert.Nil(t, rec)
	assert.Contains(t, err.Error(), "user-1")
}

func TestStore_Merge_PreservesUnsetFields(t *testing.T) {
	q := &fakeQuerier{}
	store := NewStoreWithQuerier(q)

	err := store.Merge(context.Background(), "user-1", Patch{LastCity: strPtr("Paris")})
	require.NoError(t, err)

	assert.Contains(t, q.execSQL, "ON CONFLICT (user_id) DO UPDATE",
		"merge must be an upsert")
	for _, col := range []string{"first_name", "last_name", "email", "last_city"} {
		assert.Contains(t, q.execSQL, "COALESCE(EXCLUDED."+col,
			"column %s must keep its stored value when the patch leaves it nil", col)
	}

	require.Len(t, q.execArgs, 5)
	assert.Equal(t, "user-1", q.execArgs[0])
	assert.Nil(t, q.execArgs[1], "first name not in patch")
	assert.Nil(t, q.execArgs[2], "last name not in patch")
	assert.Nil(t, q.execArgs[3], "email not in patch")
	assert.Equal(t, "Paris", *(q.execArgs[4].(*string)))
}

func TestStore_Merge_ExecFailure(t *testing.T) {
	q := &fakeQuerier{execErr: errors.New("deadlock detected")}
	store := NewStoreWithQuerier(q)

	err := store.Merge(context.Background(), "user-1", Patch{Email: strPtr("sam@example.com")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merging preferences")
}

func TestStore_Delete(t *testing.T) {
	q := &fakeQuerier{}
	store := NewStoreWithQuerier(q)

	require.NoError(t, store.Delete(context.Background(), "user-1"))
	assert.True(t, strings.HasPrefix(strings.TrimSpace(q.execSQL), "DELETE FROM user_preferences"))
	assert.Equal(t, []any{"user-1"}, q.execArgs)
}

package datastore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/drawee/drawee-go/internal/conf"
	"github.com/drawee/drawee-go/internal/errors"
	"github.com/drawee/drawee-go/internal/stage"
)

// newTestManager opens a private in-memory database per test
func newTestManager(t *testing.T) Manager {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	m, err := OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", name), nil)
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func newRepos(t *testing.T) (ChildRepository, ResultRepository) {
	t.Helper()
	m := newTestManager(t)
	return NewChildRepository(m.DB(), nil), NewResultRepository(m.DB(), nil)
}

func TestGetOrCreateIsIdempotentPerOwner(t *testing.T) {
	t.Parallel()
	children, _ := newRepos(t)
	ctx := context.Background()

	first, err := children.GetOrCreate(ctx, "owner-1", "  Maya ")
	require.NoError(t, err)
	assert.Equal(t, "Maya", first.Name)
	_, err = uuid.Parse(first.ID)
	require.NoError(t, err)

	again, err := children.GetOrCreate(ctx, "owner-1", "Maya")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	other, err := children.GetOrCreate(ctx, "owner-2", "Maya")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestGetOrCreateNormalizesUnicode(t *testing.T) {
	t.Parallel()
	children, _ := newRepos(t)
	ctx := context.Background()

	composed, err := children.GetOrCreate(ctx, "owner", "José")
	require.NoError(t, err)
	decomposed, err := children.GetOrCreate(ctx, "owner", "José")
	require.NoError(t, err)
	assert.Equal(t, composed.ID, decomposed.ID)
}

func TestGetOrCreateRejectsInvalidInput(t *testing.T) {
	t.Parallel()
	children, _ := newRepos(t)
	ctx := context.Background()

	for _, tc := range []struct{ owner, name string }{
		{"", "Maya"},
		{"owner", "   "},
		{"owner", strings.Repeat("x", MaxChildNameLength+1)},
	} {
		_, err := children.GetOrCreate(ctx, tc.owner, tc.name)
		require.ErrorIs(t, err, ErrInvalidInput)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	}
}

func TestGetOrCreateConcurrent(t *testing.T) {
	t.Parallel()
	children, _ := newRepos(t)
	ctx := context.Background()

	ids := make(chan string, 8)
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			c, err := children.GetOrCreate(ctx, "owner", "Lea")
			if assert.NoError(t, err) {
				ids <- c.ID
			}
		})
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
}

// A competing request inserts the same name between the lookup miss and
// the insert; the loser must return the winner's row.
func TestGetOrCreateLosesUniqueRace(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	db := m.DB()
	children := NewChildRepository(db, nil)
	ctx := context.Background()

	winnerID := uuid.NewString()
	var once sync.Once
	err := db.Callback().Query().After("gorm:query").Register("test:insert_competing_child", func(tx *gorm.DB) {
		if tx.Statement.Table != "children" || !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
			return
		}
		once.Do(func() {
			require.NoError(t, db.Exec(
				"INSERT INTO children (id, owner_id, name, created_at) VALUES (?, ?, ?, ?)",
				winnerID, "owner", "Lea", time.Now().UTC()).Error)
		})
	})
	require.NoError(t, err)

	c, err := children.GetOrCreate(ctx, "owner", "Lea")
	require.NoError(t, err)
	assert.Equal(t, winnerID, c.ID)
	assert.Equal(t, "Lea", c.Name)

	list, err := children.List(ctx, "owner")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestChildGetIsOwnerScoped(t *testing.T) {
	t.Parallel()
	children, _ := newRepos(t)
	ctx := context.Background()

	c, err := children.GetOrCreate(ctx, "owner-1", "Maya")
	require.NoError(t, err)

	got, err := children.Get(ctx, "owner-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Name, got.Name)

	_, err = children.Get(ctx, "owner-2", c.ID)
	require.ErrorIs(t, err, ErrChildNotFound)
	assert.True(t, errors.IsNotFound(err))
}

func TestSaveAndListNewestFirst(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	children := NewChildRepository(m.DB(), nil)
	repo := NewResultRepository(m.DB(), nil).(*resultRepository)
	ctx := context.Background()

	c, err := children.GetOrCreate(ctx, "owner", "Maya")
	require.NoError(t, err)

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	stages := []stage.Stage{stage.Scribbling, stage.Schematic, stage.Scribbling}
	for i, s := range stages {
		repo.now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		saved, err := repo.Save(ctx, NewResult{
			OwnerID:    "owner",
			ChildID:    c.ID,
			ImagePath:  fmt.Sprintf("user_uploads/%d.png", i),
			Stage:      s,
			Confidence: 55.5 + float64(i),
		})
		require.NoError(t, err)
		assert.Equal(t, s.String(), saved.Prediction)
	}

	list, err := repo.ListByChild(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "user_uploads/2.png", list[0].ImagePath)
	assert.Equal(t, "user_uploads/0.png", list[2].ImagePath)
	assert.Equal(t, time.UTC, list[0].CreatedAt.Location())
	assert.True(t, list[0].CreatedAt.Equal(base.Add(2*time.Hour)))
	assert.Equal(t, 57.5, list[0].Confidence)

	s, err := list[1].Stage()
	require.NoError(t, err)
	assert.Equal(t, stage.Schematic, s)

	n, err := repo.CountByChild(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestSaveStoresConfidenceExactly(t *testing.T) {
	t.Parallel()
	children, results := newRepos(t)
	ctx := context.Background()

	c, err := children.GetOrCreate(ctx, "owner", "Maya")
	require.NoError(t, err)

	for _, confidence := range []float64{80.00000000000001, 62.5, 100.0 / 3.0, 20.000000000000004} {
		saved, err := results.Save(ctx, NewResult{OwnerID: "owner", ChildID: c.ID, ImagePath: "p", Stage: stage.Schematic, Confidence: confidence})
		require.NoError(t, err)
		assert.Equal(t, confidence, saved.Confidence)

		got, err := results.Get(ctx, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, confidence, got.Confidence)
	}
}

func TestSaveRejectsInvalidResult(t *testing.T) {
	t.Parallel()
	_, results := newRepos(t)

	_, err := results.Save(context.Background(), NewResult{OwnerID: "o", ChildID: "c", Stage: stage.Stage(9)})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = results.Save(context.Background(), NewResult{ChildID: "c", Stage: stage.Schematic})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestSaveForUnknownChildFails(t *testing.T) {
	t.Parallel()
	_, results := newRepos(t)

	_, err := results.Save(context.Background(), NewResult{OwnerID: "o", ChildID: "missing", Stage: stage.Schematic})
	require.ErrorIs(t, err, ErrPersistence)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))
}

func TestDeleteByID(t *testing.T) {
	t.Parallel()
	children, results := newRepos(t)
	ctx := context.Background()

	c, err := children.GetOrCreate(ctx, "owner", "Maya")
	require.NoError(t, err)
	r, err := results.Save(ctx, NewResult{OwnerID: "owner", ChildID: c.ID, ImagePath: "p", Stage: stage.Schematic, Confidence: 70})
	require.NoError(t, err)

	got, err := results.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	require.NoError(t, results.DeleteByID(ctx, r.ID))

	err = results.DeleteByID(ctx, r.ID)
	require.ErrorIs(t, err, ErrResultNotFound)
	_, err = results.Get(ctx, r.ID)
	require.ErrorIs(t, err, ErrResultNotFound)
}

func TestDeleteChildRemovesResults(t *testing.T) {
	t.Parallel()
	children, results := newRepos(t)
	ctx := context.Background()

	c, err := children.GetOrCreate(ctx, "owner", "Maya")
	require.NoError(t, err)
	keep, err := children.GetOrCreate(ctx, "owner", "Noah")
	require.NoError(t, err)

	for range 3 {
		_, err := results.Save(ctx, NewResult{OwnerID: "owner", ChildID: c.ID, ImagePath: "p", Stage: stage.Scribbling, Confidence: 90})
		require.NoError(t, err)
	}
	_, err = results.Save(ctx, NewResult{OwnerID: "owner", ChildID: keep.ID, ImagePath: "p", Stage: stage.Schematic, Confidence: 60})
	require.NoError(t, err)

	_, err = children.Delete(ctx, "intruder", c.ID)
	require.ErrorIs(t, err, ErrChildNotFound)

	removed, err := children.Delete(ctx, "owner", c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	list, err := results.ListByChild(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = children.Get(ctx, "owner", c.ID)
	require.ErrorIs(t, err, ErrChildNotFound)

	n, err := results.CountByChild(ctx, keep.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = children.Delete(ctx, "owner", c.ID)
	require.ErrorIs(t, err, ErrChildNotFound)
}

func TestDeleteAllForChild(t *testing.T) {
	t.Parallel()
	children, results := newRepos(t)
	ctx := context.Background()

	c, err := children.GetOrCreate(ctx, "owner", "Maya")
	require.NoError(t, err)
	for range 2 {
		_, err := results.Save(ctx, NewResult{OwnerID: "owner", ChildID: c.ID, ImagePath: "p", Stage: stage.Schematic, Confidence: 50})
		require.NoError(t, err)
	}

	n, err := results.DeleteAllForChild(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = results.DeleteAllForChild(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListChildrenWithCounts(t *testing.T) {
	t.Parallel()
	children, results := newRepos(t)
	ctx := context.Background()

	zoe, err := children.GetOrCreate(ctx, "owner", "Zoe")
	require.NoError(t, err)
	_, err = children.GetOrCreate(ctx, "owner", "Adam")
	require.NoError(t, err)
	_, err = children.GetOrCreate(ctx, "someone-else", "Bea")
	require.NoError(t, err)

	_, err = results.Save(ctx, NewResult{OwnerID: "owner", ChildID: zoe.ID, ImagePath: "p", Stage: stage.Schematic, Confidence: 50})
	require.NoError(t, err)

	list, err := children.List(ctx, "owner")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Adam", list[0].Name)
	assert.Zero(t, list[0].ResultCount)
	assert.Equal(t, "Zoe", list[1].Name)
	assert.Equal(t, int64(1), list[1].ResultCount)

	empty, err := children.List(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestOpenSelectsBackend(t *testing.T) {
	t.Parallel()

	_, err := Open(&conf.DatastoreSettings{Type: "oracle"}, nil)
	require.Error(t, err)

	_, err = Open(&conf.DatastoreSettings{Type: conf.DatastorePostgres}, nil)
	require.ErrorIs(t, err, ErrInvalidInput)

	m, err := Open(&conf.DatastoreSettings{Type: conf.DatastoreSQLite, SQLite: conf.SQLiteSettings{Path: t.TempDir() + "/db/drawee.db"}}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	assert.Equal(t, conf.DatastoreSQLite, m.Dialect())
	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.Ping(context.Background()))
}

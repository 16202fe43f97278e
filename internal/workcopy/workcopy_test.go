package workcopy

import (
	"errors"
	"testing"

	"github.com/voyagen/lineup/internal/commit"
	"github.com/voyagen/lineup/internal/models"
	"github.com/voyagen/lineup/internal/numbering"
)

func testCatalog() models.Catalog {
	return models.Catalog{
		Groups: []models.Group{
			{ID: 2, Name: "Sports", Position: 2},
			{ID: 1, Name: "News", Position: 1},
		},
		Channels: []models.Channel{
			{ID: 1, Number: models.IntPtr(1), Name: "CNN", GroupID: models.Int64Ptr(1), StreamIDs: []int64{10, 11}},
			{ID: 2, Number: models.IntPtr(2), Name: "BBC", GroupID: models.Int64Ptr(1)},
			{ID: 3, Number: models.IntPtr(10), Name: "ESPN", GroupID: models.Int64Ptr(2)},
			{ID: 4, Name: "Loose"},
		},
	}
}

func update(id int64, n int) models.Operation {
	return models.Operation{Kind: models.OpUpdateChannel, ChannelID: id, Update: models.ChannelUpdate{Number: models.IntPtr(n)}}
}

func TestApplyAndReset(t *testing.T) {
	t.Parallel()

	base := testCatalog()
	w := New(base)
	if err := w.Apply(update(1, 5)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := w.Apply(models.Operation{Kind: models.OpDeleteChannel, ChannelID: 2}); err != nil {
		t.Fatalf("Apply delete: %v", err)
	}
	ch, _ := w.Get(1)
	if *ch.Number != 5 {
		t.Fatalf("number = %d, want 5", *ch.Number)
	}
	if _, ok := w.Get(2); ok {
		t.Fatal("deleted channel still visible")
	}
	if *base.Channels[0].Number != 1 {
		t.Fatal("base catalog was mutated")
	}

	w.Reset()
	ch, _ = w.Get(1)
	if *ch.Number != 1 {
		t.Fatalf("after Reset number = %d, want 1", *ch.Number)
	}
	if _, ok := w.Get(2); !ok {
		t.Fatal("after Reset deleted channel is missing")
	}
}

func TestApplyErrors(t *testing.T) {
	t.Parallel()

	w := New(testCatalog())
	if err := w.Apply(update(99, 1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update of missing channel err = %v", err)
	}
	dup := models.Channel{ID: 1, Name: "again"}
	if err := w.Apply(models.Operation{Kind: models.OpCreateChannel, ChannelID: 1, Channel: &dup}); !errors.Is(err, ErrExists) {
		t.Fatalf("create over existing err = %v", err)
	}
}

func TestListAndGroups(t *testing.T) {
	t.Parallel()

	w := New(testCatalog())
	if err := w.Apply(models.Operation{Kind: models.OpMoveChannelGroup, ChannelID: 2, GroupID: models.Int64Ptr(2)}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	sports := w.List(Filter{GroupID: models.Int64Ptr(2)})
	if len(sports) != 2 || sports[0].ID != 2 || sports[1].ID != 3 {
		t.Fatalf("sports = %+v", sports)
	}
	loose := w.List(Filter{Ungrouped: true})
	if len(loose) != 1 || loose[0].ID != 4 {
		t.Fatalf("ungrouped = %+v", loose)
	}
	groups := w.Groups()
	if groups[0].ID != 1 || groups[0].ChannelCount != 1 || groups[1].ChannelCount != 2 {
		t.Fatalf("groups = %+v", groups)
	}
	all := w.List(Filter{})
	if all[len(all)-1].ID != 4 {
		t.Fatalf("unnumbered channel not last: %+v", all)
	}
}

func TestCheckUnique(t *testing.T) {
	t.Parallel()

	w := New(testCatalog())
	if err := w.Apply(update(2, 1)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	var v *numbering.InvariantViolation
	if err := w.CheckUnique(); !errors.As(err, &v) || v.Number != 1 {
		t.Fatalf("CheckUnique = %v, want violation on 1", err)
	}
	if err := w.Apply(update(1, 2)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := w.CheckUnique(); err != nil {
		t.Fatalf("after swap CheckUnique = %v", err)
	}
}

func TestCheckUniqueToleratesBaseDuplicates(t *testing.T) {
	t.Parallel()

	cat := testCatalog()
	cat.Channels[3].Number = models.IntPtr(10)
	w := New(cat)
	if err := w.CheckUnique(); err != nil {
		t.Fatalf("untouched duplicate flagged: %v", err)
	}
	if err := w.Apply(update(1, 10)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := w.CheckUnique(); err == nil {
		t.Fatal("new holder of a duplicate number not flagged")
	}
}

func TestDiffOrder(t *testing.T) {
	t.Parallel()

	w := New(testCatalog())
	created := models.Channel{ID: -1, Name: "New", Number: models.IntPtr(20)}
	ops := []models.Operation{
		{Kind: models.OpDeleteChannel, ChannelID: 3},
		update(1, 3),
		update(2, 4),
		{Kind: models.OpMoveChannelGroup, ChannelID: 4, GroupID: models.Int64Ptr(2)},
		{Kind: models.OpCreateChannel, ChannelID: -1, Channel: &created},
		{Kind: models.OpReorderStreams, ChannelID: 1, StreamIDs: []int64{11, 10}},
	}
	for _, op := range ops {
		if err := w.Apply(op); err != nil {
			t.Fatalf("Apply %s: %v", op.Kind, err)
		}
	}

	items := w.Diff()
	want := []struct {
		kind commit.Kind
		id   int64
	}{
		{commit.KindDelete, 3},
		{commit.KindUpdate, 2},
		{commit.KindUpdate, 1},
		{commit.KindMoveGroup, 4},
		{commit.KindCreate, -1},
		{commit.KindReorderStreams, 1},
	}
	if len(items) != len(want) {
		t.Fatalf("got %d items: %v", len(items), items)
	}
	for i, w := range want {
		if items[i].Kind != w.kind || items[i].EntityID != w.id {
			t.Fatalf("item %d = %s, want %s channel %d", i, items[i], w.kind, w.id)
		}
	}
}

func TestDiffEmptyAfterRevert(t *testing.T) {
	t.Parallel()

	w := New(testCatalog())
	w.Apply(update(1, 7))
	w.Apply(update(1, 1))
	if items := w.Diff(); len(items) != 0 {
		t.Fatalf("Diff = %v, want none", items)
	}
}

func TestReconcileAliasesCreatedChannel(t *testing.T) {
	t.Parallel()

	w := New(testCatalog())
	created := models.Channel{ID: -1, Name: "New", Number: models.IntPtr(20)}
	op := models.Operation{Kind: models.OpCreateChannel, ChannelID: -1, Channel: &created}
	if err := w.Apply(op); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	items := w.Diff()
	persisted := created.Clone()
	persisted.ID = 50
	w.Reconcile(items[0], &persisted)

	if got := w.ResolveID(-1); got != 50 {
		t.Fatalf("ResolveID(-1) = %d, want 50", got)
	}

	// Replaying the remapped journal re-creates the channel under its persisted id.
	w.Reset()
	op.ChannelID = 50
	op.Channel = &persisted
	if err := w.Apply(op); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if items := w.Diff(); len(items) != 0 {
		t.Fatalf("Diff after reconcile = %v, want none", items)
	}
	if ch, ok := w.Get(-1); !ok || ch.ID != 50 {
		t.Fatalf("Get(-1) = %+v, %v", ch, ok)
	}
}

func TestReconcileWithoutEntityPatchesCommittedView(t *testing.T) {
	t.Parallel()

	w := New(testCatalog())
	w.Apply(update(3, 30))
	items := w.Diff()
	w.Reconcile(items[0], nil)
	if items := w.Diff(); len(items) != 0 {
		t.Fatalf("Diff = %v, want none", items)
	}
}

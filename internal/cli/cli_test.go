package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"github.com/ariefcatur/resto-pos/internal/memstore"
	"github.com/ariefcatur/resto-pos/internal/outbox"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
)

type recordingSink struct {
	events []outbox.Event
	err    error
}

func (s *recordingSink) Broadcast(_ context.Context, ev outbox.Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

type harness struct {
	store  *memstore.Store
	sink   *recordingSink
	opened int
}

func newHarness() *harness {
	return &harness{store: memstore.New(), sink: &recordingSink{}}
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	opts := &RootOptions{
		Open: func(context.Context, string) (Backend, func(), error) {
			h.opened++
			return h.store, func() {}, nil
		},
		Sink: func([]string) (outbox.Broadcaster, func(), error) {
			return h.sink, func() {}, nil
		},
	}
	cmd := newRootCommand(opts)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRoot_RejectsUnknownFormat(t *testing.T) {
	h := newHarness()
	_, err := h.run(t, "table", "list", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Zero(t, h.opened)
}

func TestTable_AddListDisable(t *testing.T) {
	h := newHarness()

	out, err := h.run(t, "table", "add", "--id", "t1", "--name", "Patio 1", "--capacity", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "table Patio 1 (t1) added")

	_, err = h.run(t, "table", "add", "--id", "t2", "--name", "Patio 2")
	require.NoError(t, err)

	out, err = h.run(t, "table", "list", "--format", "json")
	require.NoError(t, err)
	var tables []pos.Table
	require.NoError(t, json.Unmarshal([]byte(out), &tables))
	require.Len(t, tables, 2)
	assert.Equal(t, "t1", tables[0].ID)
	assert.Equal(t, 2, tables[0].Capacity)
	assert.Equal(t, pos.TableAvailable, tables[1].Status)

	out, err = h.run(t, "table", "disable", "t2")
	require.NoError(t, err)
	assert.Contains(t, out, "table t2 disabled")

	out, err = h.run(t, "table", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[2], "true")
}

func TestTable_AddValidatesCapacity(t *testing.T) {
	h := newHarness()
	_, err := h.run(t, "table", "add", "--name", "Bar", "--capacity", "0")
	require.Error(t, err)
	assert.Zero(t, h.opened)

	_, err = h.run(t, "table", "add", "--capacity", "2")
	require.Error(t, err, "name is required")
}

func TestVoucher_Add(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"percent", []string{"--code", "hemat10", "--value", "10", "--max-discount", "20000"}, ""},
		{"fixed with window", []string{"--code", "promo", "--type", "fixed", "--value", "5000", "--starts", "2026-01-01T00:00:00Z", "--ends", "2026-02-01T00:00:00Z"}, ""},
		{"bad value", []string{"--code", "x", "--value", "ten"}, "--value"},
		{"bad time", []string{"--code", "x", "--value", "1", "--ends", "tomorrow"}, "--ends"},
		{"inverted window", []string{"--code", "x", "--value", "1", "--starts", "2026-02-01T00:00:00Z", "--ends", "2026-01-01T00:00:00Z"}, "ends before"},
		{"unknown type", []string{"--code", "x", "--type", "bogo", "--value", "1"}, "discount type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			_, err := h.run(t, append([]string{"voucher", "add"}, tt.args...)...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}

	h := newHarness()
	_, err := h.run(t, "voucher", "add", "--code", " hemat10 ", "--value", "10")
	require.NoError(t, err)
	v, err := h.store.FindVoucher(context.Background(), "HEMAT10")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, pos.VoucherActive, v.Status)
}

func TestDishAndMember_Add(t *testing.T) {
	h := newHarness()
	_, err := h.run(t, "dish", "add", "--id", "nasi", "--name", "Nasi Goreng", "--price", "25000")
	require.NoError(t, err)
	dishes, err := h.store.GetDishes(context.Background(), []string{"nasi"})
	require.NoError(t, err)
	assert.True(t, dishes["nasi"].Available)
	assert.Equal(t, "25000", dishes["nasi"].Price.String())

	_, err = h.run(t, "dish", "add", "--name", "Sop", "--price", "-1")
	assert.ErrorIs(t, err, pos.ErrNegativeAmount)

	out, err := h.run(t, "member", "add", "--id", "m1", "--name", "Budi", "--points", "40", "--format", "json")
	require.NoError(t, err)
	var m pos.Member
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, int64(40), m.Points)

	_, err = h.run(t, "member", "add", "--name", "Ani", "--points", "-5")
	assert.ErrorIs(t, err, pos.ErrInvalidPoints)
}

func TestOutbox_PendingAndDrain(t *testing.T) {
	h := newHarness()
	_, err := h.run(t, "table", "add", "--id", "t1", "--name", "Patio 1")
	require.NoError(t, err)
	_, err = h.run(t, "table", "disable", "t1")
	require.NoError(t, err)

	out, err := h.run(t, "outbox", "pending")
	require.NoError(t, err)
	assert.Contains(t, out, pos.EventTableStatusChanged)
	assert.Contains(t, out, "1 pending")

	h.sink.err = errors.New("broker down")
	_, err = h.run(t, "outbox", "drain")
	require.Error(t, err)
	assert.ErrorIs(t, err, pos.ErrDispatchFailure)

	h.sink.err = nil
	out, err = h.run(t, "outbox", "drain")
	require.NoError(t, err)
	assert.Contains(t, out, "dispatched 1 events")
	require.Len(t, h.sink.events, 1)
	assert.Equal(t, "t1", h.sink.events[0].AggregateID)

	out, err = h.run(t, "outbox", "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "0 pending")
}

package preflight

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	obperrors "github.com/Aman-CERP/obplan/internal/errors"
	"github.com/Aman-CERP/obplan/internal/topology"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusWait, "WAIT"},
		{StatusPass, "PASS"},
		{StatusFail, "FAIL"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func finding(msg string) *obperrors.Error {
	return obperrors.New(obperrors.ErrCodeMemoryCached, msg, nil).WithSuggestion("fix " + msg)
}

func TestLedger_PolicyMatrix(t *testing.T) {
	type report func(l *Ledger, n *topology.Node)
	alert := func(l *Ledger, n *topology.Node) { l.Alert(n, ItemMem, finding("alert")) }
	alertStrict := func(l *Ledger, n *topology.Node) { l.AlertStrict(n, ItemMem, finding("alert strict")) }
	errorf := func(l *Ledger, n *topology.Node) { l.Error(n, ItemMem, finding("error")) }
	critical := func(l *Ledger, n *topology.Node) { l.Critical(n, ItemMem, finding("critical")) }

	tests := []struct {
		name       string
		report     report
		policy     Policy
		production bool
		want       Status
	}{
		{"alert passes by default", alert, Policy{}, false, StatusPass},
		{"alert fails when strict", alert, Policy{Strict: true}, false, StatusFail},
		{"alert ignores production", alert, Policy{Production: true}, false, StatusPass},
		{"alert strict passes by default", alertStrict, Policy{}, false, StatusPass},
		{"alert strict fails when strict", alertStrict, Policy{Strict: true}, false, StatusFail},
		{"alert strict fails for production policy", alertStrict, Policy{Production: true}, false, StatusFail},
		{"alert strict fails for production node", alertStrict, Policy{}, true, StatusFail},
		{"error fails by default", errorf, Policy{}, false, StatusFail},
		{"error warns when unsafe is permitted", errorf, Policy{PermitUnsafe: true}, false, StatusPass},
		{"critical fails by default", critical, Policy{}, false, StatusFail},
		{"critical fails when unsafe is permitted", critical, Policy{PermitUnsafe: true}, false, StatusFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: one node in a fresh ledger
			n := topology.NewNode(topology.OceanBase, "4.2.1", "a", "10.0.0.1", nil,
				map[string]any{topology.KeyProductionMode: tt.production})
			l := NewLedger(tt.policy, nil)
			l.Start(n, ItemMem)

			// When: a finding is reported and the pass ends
			tt.report(l, n)
			l.Flush()

			// Then: the item resolves as the policy demands
			r, ok := l.Get(n, ItemMem)
			require.True(t, ok)
			assert.Equal(t, tt.want, r.Status)
			if tt.want == StatusFail {
				require.NotNil(t, r.Err)
				assert.Empty(t, r.Warnings)
			} else {
				assert.Nil(t, r.Err)
				assert.Len(t, r.Warnings, 1)
			}
			assert.Len(t, r.Suggestions, 1)
		})
	}
}

func TestLedger_FailIsFinal(t *testing.T) {
	// Given: an item that already failed
	n := topology.NewNode(topology.OceanBase, "4.2.1", "a", "10.0.0.1", nil, nil)
	l := NewLedger(Policy{}, nil)
	l.Start(n, ItemDisk)
	first := finding("first")
	l.Critical(n, ItemDisk, first)
	before, _ := l.Get(n, ItemDisk)

	// When: more findings and a pass arrive
	l.Pass(n, ItemDisk)
	l.Alert(n, ItemDisk, finding("alert"))
	l.Warn(n, ItemDisk, finding("warn"))
	l.Critical(n, ItemDisk, finding("second"))
	l.Flush()

	// Then: the entry is unchanged
	after, _ := l.Get(n, ItemDisk)
	assert.Equal(t, StatusFail, after.Status)
	assert.Same(t, first, after.Err)
	assert.Equal(t, before.Warnings, after.Warnings)
	assert.Equal(t, before.Suggestions, after.Suggestions)
}

func TestLedger_PassIsFinal(t *testing.T) {
	// Given: an item that passed
	n := topology.NewNode(topology.OceanBase, "4.2.1", "a", "10.0.0.1", nil, nil)
	l := NewLedger(Policy{}, nil)
	l.Pass(n, ItemPort)

	// When: a critical finding arrives afterwards
	l.Critical(n, ItemPort, finding("late"))

	// Then: the item stays passed
	r, _ := l.Get(n, ItemPort)
	assert.Equal(t, StatusPass, r.Status)
	assert.False(t, l.Failed())
}

func TestLedger_FlushResolvesWaiting(t *testing.T) {
	// Given: two waiting items, one with a warning
	n := topology.NewNode(topology.OceanBase, "4.2.1", "a", "10.0.0.1", nil, nil)
	l := NewLedger(Policy{}, nil)
	l.Start(n, ItemPort)
	l.Start(n, ItemMem)
	l.Alert(n, ItemMem, finding("low"))

	// When: the pass ends
	l.Flush()

	// Then: nothing stays in WAIT and nothing failed
	for _, r := range l.Records() {
		assert.Equal(t, StatusPass, r.Status, r.Item)
	}
	assert.False(t, l.Failed())
	assert.Empty(t, l.Failures())
}

func TestLedger_AutoFix(t *testing.T) {
	// Given: one node with a planned memory_limit, one with a declared one
	planned := topology.NewNode(topology.OceanBase, "4.2.1", "a", "10.0.0.1", nil, nil)
	declared := topology.NewNode(topology.OceanBase, "4.2.1", "b", "10.0.0.2", nil,
		map[string]any{topology.KeyMemoryLimit: "4G"})
	gen := topology.NewGenerated()
	gen.AddNode(planned, topology.KeyMemoryLimit, "8G")
	l := NewLedger(Policy{}, gen.Freeze())

	// When: both fail on memory_limit
	l.Error(planned, ItemMem, finding("a"), topology.KeyMemoryLimit)
	l.Error(declared, ItemMem, finding("b"), topology.KeyMemoryLimit)

	// Then: only the planned value may be rewritten automatically
	ra, _ := l.Get(planned, ItemMem)
	rb, _ := l.Get(declared, ItemMem)
	require.Len(t, ra.Suggestions, 1)
	require.Len(t, rb.Suggestions, 1)
	assert.True(t, ra.Suggestions[0].AutoFix)
	assert.False(t, rb.Suggestions[0].AutoFix)
	assert.Equal(t, []string{topology.KeyMemoryLimit}, ra.Suggestions[0].Keys)
}

func TestLedger_SuggestionWithoutKeysIsManual(t *testing.T) {
	n := topology.NewNode(topology.OceanBase, "4.2.1", "a", "10.0.0.1", nil, nil)
	l := NewLedger(Policy{}, nil)

	l.Critical(n, ItemUlimit, obperrors.New(obperrors.ErrCodeUlimit, "nofile too low", nil))

	r, _ := l.Get(n, ItemUlimit)
	require.Len(t, r.Suggestions, 1)
	assert.False(t, r.Suggestions[0].AutoFix)
	assert.Equal(t, "Review nofile too low", r.Suggestions[0].Text)
}

func TestLedger_RecordsOrder(t *testing.T) {
	// Given: items started out of catalogue order on two nodes
	a := topology.NewNode(topology.OceanBase, "4.2.1", "a", "10.0.0.1", nil, nil)
	b := topology.NewNode(topology.OceanBase, "4.2.1", "b", "10.0.0.2", nil, nil)
	l := NewLedger(Policy{}, nil)
	l.Start(b, ItemPort)
	l.Start(a, ItemNTP)
	l.Start(a, ItemPort)
	l.Start(a, ItemDisk)

	// When: records are listed
	rs := l.Records()

	// Then: by node, then by catalogue order
	var got []string
	for _, r := range rs {
		got = append(got, r.Node.Name+":"+r.Item)
	}
	assert.Equal(t, []string{"a:port", "a:disk", "a:ntp", "b:port"}, got)
}

func TestLedger_InfeasibleIsManual(t *testing.T) {
	// Given: a node whose memory_limit was generated
	n := topology.NewNode(topology.OceanBase, "4.2.1", "a", "10.0.0.1", nil, nil)
	gen := topology.NewGenerated()
	gen.AddNode(n, topology.KeyMemoryLimit, "8G")
	l := NewLedger(Policy{PermitUnsafe: true}, gen.Freeze())

	// When: planning reports a dead end on it
	l.Infeasible(n, ItemMem, obperrors.New(obperrors.ErrCodeMemoryInfeasible, "floor does not fit", nil),
		topology.KeyMemoryLimit)

	// Then: the item fails and the fix is left to the operator
	r, _ := l.Get(n, ItemMem)
	assert.Equal(t, StatusFail, r.Status)
	require.Len(t, r.Suggestions, 1)
	assert.False(t, r.Suggestions[0].AutoFix)
	assert.Equal(t, []string{topology.KeyMemoryLimit}, r.Suggestions[0].Keys)
}

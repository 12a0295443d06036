package preflight

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/Aman-CERP/obplan/internal/capacity"
	obperrors "github.com/Aman-CERP/obplan/internal/errors"
	"github.com/Aman-CERP/obplan/internal/topology"
)

// Check items.
const (
	ItemPort   = "port"
	ItemMem    = "mem"
	ItemDisk   = "disk"
	ItemDir    = "dir"
	ItemUlimit = "ulimit"
	ItemAIO    = "aio"
	ItemKernel = "kernel"
	ItemNet    = "net"
	ItemNTP    = "ntp"
	ItemTenant = "tenant"
)

// Status is the state of one (node, item) entry.
type Status int

const (
	// StatusWait means the item has not been decided yet.
	StatusWait Status = iota
	// StatusPass means the item passed.
	StatusPass
	// StatusFail means the item failed.
	StatusFail
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusWait:
		return "WAIT"
	case StatusPass:
		return "PASS"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status for JSON output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Policy decides how strictly soft findings are treated.
type Policy struct {
	Strict       bool
	Production   bool
	PermitUnsafe bool
	// MinMemory overrides the non-production memory floor when set.
	MinMemory capacity.Bytes
}

// Suggestion is a remediation for a finding.
type Suggestion struct {
	Text string   `json:"text"`
	Keys []string `json:"keys,omitempty"`
	// AutoFix is true when every key may be rewritten by planning again.
	AutoFix bool `json:"auto_fix"`
}

// Record is the read-only view of one (node, item) entry.
type Record struct {
	Node        *topology.Node     `json:"-"`
	NodeID      string             `json:"node"`
	IP          string             `json:"ip"`
	Item        string             `json:"item"`
	Status      Status             `json:"status"`
	Err         *obperrors.Error   `json:"error,omitempty"`
	Warnings    []*obperrors.Error `json:"warnings,omitempty"`
	Suggestions []Suggestion       `json:"suggestions,omitempty"`
}

// Ledger holds the status of every (node, item) for one pass. Entries move
// from WAIT to PASS or FAIL once and never change afterwards. It is safe for
// concurrent use.
type Ledger struct {
	mu      sync.Mutex
	policy  Policy
	gen     *topology.Generated
	records map[string]*Record
}

// NewLedger creates an empty ledger. gen is the frozen set of planned keys
// used to decide auto_fix; it may be nil when nothing was planned.
func NewLedger(policy Policy, gen *topology.Generated) *Ledger {
	return &Ledger{
		policy:  policy,
		gen:     gen,
		records: map[string]*Record{},
	}
}

// Policy returns the policy the ledger applies.
func (l *Ledger) Policy() Policy {
	return l.policy
}

func recordKey(n *topology.Node, item string) string {
	return n.ID() + "\x00" + item
}

// Start opens (n, item) in WAIT. Starting an open entry is a no-op.
func (l *Ledger) Start(n *topology.Node, item string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open(n, item)
}

func (l *Ledger) open(n *topology.Node, item string) *Record {
	k := recordKey(n, item)
	r, ok := l.records[k]
	if !ok {
		r = &Record{Node: n, NodeID: n.ID(), IP: n.IP, Item: item}
		l.records[k] = r
	}
	return r
}

// waiting returns the entry if it can still change.
func (l *Ledger) waiting(n *topology.Node, item string) *Record {
	r := l.open(n, item)
	if r.Status != StatusWait {
		slog.Debug("ledger write to resolved item ignored",
			slog.String("node", n.ID()),
			slog.String("item", item),
			slog.String("status", r.Status.String()))
		return nil
	}
	return r
}

// Pass moves (n, item) to PASS.
func (l *Ledger) Pass(n *topology.Node, item string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r := l.waiting(n, item); r != nil {
		r.Status = StatusPass
	}
}

// Warn records a finding that never fails the item, such as a fact that
// could not be read.
func (l *Ledger) Warn(n *topology.Node, item string, err *obperrors.Error, keys ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r := l.waiting(n, item); r != nil {
		l.warn(r, err, keys)
	}
}

// Alert warns, or fails the item under the strict policy.
func (l *Ledger) Alert(n *topology.Node, item string, err *obperrors.Error, keys ...string) {
	l.report(n, item, err, keys, l.policy.Strict, false)
}

// AlertStrict is Alert that also fails for production nodes.
func (l *Ledger) AlertStrict(n *topology.Node, item string, err *obperrors.Error, keys ...string) {
	l.report(n, item, err, keys, l.policy.Strict || l.production(n), false)
}

// Error fails the item unless the policy permits unsafe runs.
func (l *Ledger) Error(n *topology.Node, item string, err *obperrors.Error, keys ...string) {
	l.report(n, item, err, keys, !l.policy.PermitUnsafe, false)
}

// Critical always fails the item.
func (l *Ledger) Critical(n *topology.Node, item string, err *obperrors.Error, keys ...string) {
	l.report(n, item, err, keys, true, false)
}

// Infeasible always fails the item with a suggestion that planning cannot
// apply by itself, whatever the keys.
func (l *Ledger) Infeasible(n *topology.Node, item string, err *obperrors.Error, keys ...string) {
	l.report(n, item, err, keys, true, true)
}

func (l *Ledger) production(n *topology.Node) bool {
	return l.policy.Production || n.Bool(topology.KeyProductionMode)
}

func (l *Ledger) report(n *topology.Node, item string, err *obperrors.Error, keys []string, fail, manual bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.waiting(n, item)
	if r == nil {
		return
	}
	if !fail {
		l.warn(r, err, keys)
		return
	}
	r.Status = StatusFail
	r.Err = err
	s := l.suggestion(n, err, keys)
	if manual {
		s.AutoFix = false
	}
	r.Suggestions = append(r.Suggestions, s)
}

func (l *Ledger) warn(r *Record, err *obperrors.Error, keys []string) {
	r.Warnings = append(r.Warnings, err)
	if err.Suggestion != "" {
		r.Suggestions = append(r.Suggestions, l.suggestion(r.Node, err, keys))
	}
}

func (l *Ledger) suggestion(n *topology.Node, err *obperrors.Error, keys []string) Suggestion {
	text := err.Suggestion
	if text == "" {
		text = "Review " + err.Message
	}
	return Suggestion{
		Text:    text,
		Keys:    keys,
		AutoFix: l.gen.AutoFix(n, keys...),
	}
}

// Flush moves every entry still in WAIT to PASS. It ends the pass.
func (l *Ledger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.records {
		if r.Status == StatusWait {
			r.Status = StatusPass
		}
	}
}

// Get returns a copy of the (n, item) entry.
func (l *Ledger) Get(n *topology.Node, item string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[recordKey(n, item)]
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

// Records returns copies of every entry ordered by node then item.
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	out := make([]Record, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, r.clone())
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].NodeID != out[j].NodeID {
			return out[i].NodeID < out[j].NodeID
		}
		return itemRank(out[i].Item) < itemRank(out[j].Item)
	})
	return out
}

// Failures returns the failed entries.
func (l *Ledger) Failures() []Record {
	var out []Record
	for _, r := range l.Records() {
		if r.Status == StatusFail {
			out = append(out, r)
		}
	}
	return out
}

// Failed reports whether any entry failed.
func (l *Ledger) Failed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.records {
		if r.Status == StatusFail {
			return true
		}
	}
	return false
}

func (r *Record) clone() Record {
	c := *r
	c.Warnings = append([]*obperrors.Error(nil), r.Warnings...)
	c.Suggestions = append([]Suggestion(nil), r.Suggestions...)
	return c
}

var itemOrder = []string{ItemPort, ItemMem, ItemDisk, ItemDir, ItemUlimit, ItemAIO, ItemKernel, ItemNet, ItemNTP, ItemTenant}

func itemRank(item string) int {
	for i, it := range itemOrder {
		if it == item {
			return i
		}
	}
	return len(itemOrder)
}

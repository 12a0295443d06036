package preflight

import (
	"context"

	obperrors "github.com/Aman-CERP/obplan/internal/errors"
	"github.com/Aman-CERP/obplan/internal/probe"
	"github.com/Aman-CERP/obplan/internal/topology"
)

// checkDirs requires every directory a node owns to be absent or empty,
// and creatable when absent.
func checkDirs(ctx context.Context, e *Env, nodes []*topology.Node) error {
	n := nodes[0]
	spec := n.Spec()
	if spec == nil || e.Prober == nil {
		return nil
	}
	seen := map[string]bool{}
	for _, key := range spec.DirKeys {
		dir := n.StringValue(key)
		if dir == "" || seen[dir] {
			continue
		}
		seen[dir] = true

		st, err := e.Prober.DirState(ctx, n.IP, dir)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.Ledger.Warn(n, ItemDir, obperrors.FactUnavailable(probe.FactDir, n.IP, err).WithDetail("dir", dir))
			continue
		}
		switch {
		case st.Exists && !st.Empty:
			e.Ledger.Critical(n, ItemDir, obperrors.Newf(obperrors.ErrCodeDirNotEmpty,
				"%s: %s %s is not empty", n.ID(), key, dir).
				WithDetail("dir", dir).
				WithSuggestion("Empty "+dir+" or point "+key+" to a new directory"), key)
		case !st.Exists && !st.ParentWritable:
			e.Ledger.Critical(n, ItemDir, obperrors.Newf(obperrors.ErrCodeDirNotWritable,
				"%s: %s %s cannot be created", n.ID(), key, dir).
				WithDetail("dir", dir).
				WithSuggestion("Grant the deploy user write access to the parent of "+dir), key)
		}
	}
	return nil
}

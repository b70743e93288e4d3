package remote

import (
	"context"
	"time"

	"github.com/skirt-explorer/skirt-explorer/explore/host"
)

// ShellProber implements host.Prober over the same per-host Openers map
// the remote synchronizer uses: it opens a session and runs a trivial
// command, treating a clean exit within the deadline as "alive". The
// local host never reaches this — host.Inventory.IsAvailable short-circuits
// it before any prober is consulted.
type ShellProber struct {
	Openers map[string]Opener
}

// Probe reports whether h's remote host accepts and completes a trivial
// command within timeout.
func (p ShellProber) Probe(ctx context.Context, h host.HostSpec, timeout time.Duration) bool {
	opener, ok := p.Openers[h.ID]
	if !ok {
		return false
	}
	sess, err := opener.OpenSession(ctx)
	if err != nil {
		return false
	}
	defer sess.Close()

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res, err := sess.RunCommand(probeCtx, "true")
	return err == nil && res.ExitCode == 0
}

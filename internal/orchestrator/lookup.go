// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orchestrator

import (
	"context"
	"fmt"
	"log"

	"github.com/relabs-tech/anchor_guide/internal/calibration"
	"github.com/relabs-tech/anchor_guide/internal/positions"
)

// startLookup issues one position fetch. Its answer comes back to the loop
// as a fetchDone tagged with the lookup sequence number; only the answer to
// the newest lookup is acted upon.
func (o *Orchestrator) startLookup(node string) {
	o.lookupSeq++
	seq := o.lookupSeq

	mac, ok := o.nodes.MAC(node)
	fetcher := o.fetcher
	parent := o.runCtx
	timeout := o.fetchTimeout

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		if !ok {
			o.post(fetchDone{seq: seq, node: node, err: fmt.Errorf("%w: %s", positions.ErrUnknownNode, node)})
			return
		}
		if fetcher == nil {
			o.post(fetchDone{seq: seq, node: node, err: fmt.Errorf("no position fetcher configured")})
			return
		}

		var (
			ctx    context.Context
			cancel context.CancelFunc
		)
		if timeout > 0 {
			ctx, cancel = o.clock.WithTimeout(parent, timeout)
		} else {
			ctx, cancel = context.WithCancel(parent)
		}
		defer cancel()

		log.Printf("orchestrator: fetching position of %s (%s)", node, mac)
		pos, err := fetcher.FetchPosition(ctx, mac)
		o.post(fetchDone{seq: seq, node: node, pos: pos, err: err})
	}()
}

func (o *Orchestrator) handleFetch(m fetchDone) {
	if m.seq != o.lookupSeq {
		log.Printf("orchestrator: dropping stale lookup result for %s", m.node)
		return
	}
	if m.err != nil {
		log.Printf("orchestrator: lookup for %s failed: %v", m.node, m.err)
		o.dispatch(calibration.PositionFailed{Node: m.node, Err: m.err})
		return
	}
	o.dispatch(calibration.PositionFetched{Node: m.node, Position: m.pos})
}

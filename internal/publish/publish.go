// Package publish writes the memory keys declared by reports into a memstore.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/kingrea/lintreports/internal/logbook"
	"github.com/kingrea/lintreports/internal/memstore"
	"github.com/kingrea/lintreports/internal/report"
)

// Entry is the JSON document stored under each memory key.
type Entry struct {
	Key         string `json:"key"`
	Description string `json:"description"`
	AgentID     string `json:"agentId"`
	Source      string `json:"source"`
}

// Result summarizes a publish run.
type Result struct {
	Written int
	// Overwritten lists keys that more than one report declared; the value
	// from the latest pipeline step is the one kept.
	Overwritten []string
	// Skipped lists keys the store rejected.
	Skipped []string
}

// Publisher pushes report memory keys into a store.
type Publisher struct {
	store memstore.Store
	log   *logbook.Logbook
}

// New builds a publisher. log may be nil.
func New(store memstore.Store, log *logbook.Logbook) *Publisher {
	return &Publisher{store: store, log: log}
}

// Publish writes every memory key of reports. Reports are applied in pipeline
// order (position, then agent ID, unplaced reports last) so later steps win.
// Keys the store rejects are skipped and logged; storage failures abort.
func (p *Publisher) Publish(ctx context.Context, reports []*report.AgentReport) (Result, error) {
	ordered := append([]*report.AgentReport(nil), reports...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		switch {
		case a.HasPosition() && b.HasPosition() && a.Position != b.Position:
			return a.Position < b.Position
		case a.HasPosition() != b.HasPosition():
			return a.HasPosition()
		}
		return a.AgentID < b.AgentID
	})

	var res Result
	writers := map[string]string{}
	overwritten := map[string]bool{}
	for _, r := range ordered {
		for _, mk := range r.MemoryKeys {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			payload, err := json.Marshal(Entry{Key: mk.Key, Description: mk.Description, AgentID: r.AgentID, Source: r.Path})
			if err != nil {
				return res, fmt.Errorf("publish: encode %s: %w", mk.Key, err)
			}
			if err := p.store.Put(ctx, mk.Key, payload); err != nil {
				if isRejected(err) {
					p.log.Warn("publish: skipping %s from %s: %v", mk.Key, r.AgentID, err)
					res.Skipped = append(res.Skipped, mk.Key)
					continue
				}
				return res, fmt.Errorf("publish: %w", err)
			}
			if previous, ok := writers[mk.Key]; ok && previous != r.AgentID && !overwritten[mk.Key] {
				overwritten[mk.Key] = true
				res.Overwritten = append(res.Overwritten, mk.Key)
			}
			writers[mk.Key] = r.AgentID
			res.Written++
		}
	}
	sort.Strings(res.Overwritten)
	sort.Strings(res.Skipped)
	p.log.Info("publish: wrote %d keys (%d overwritten, %d skipped)", res.Written, len(res.Overwritten), len(res.Skipped))
	return res, nil
}

func isRejected(err error) bool {
	return errors.Is(err, memstore.ErrInvalidKey) || errors.Is(err, memstore.ErrInvalidValue)
}

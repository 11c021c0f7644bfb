package pipeline

import (
	"os"
	"time"

	"github.com/emailpipe/mailpipe/lib/queuedir"
	log "github.com/sirupsen/logrus"
)

// purge aged files per terminal state. zero retention is the explicit
// keep-forever sentinel. orphans are not a directory of their own:
// they are processed files no live record points at, swept under
// their own retention period.
func (p *Pipeline) Sweep(now time.Time) (err error) {
	states := []struct {
		st   queuedir.State
		days int
	}{
		{queuedir.Quarantine, p.Cfg.RetentionQuarantine},
		{queuedir.Unknown, p.Cfg.RetentionUnknown},
		{queuedir.Bad, p.Cfg.RetentionBad},
		{queuedir.Processed, p.Cfg.RetentionProcessed},
	}
	for _, s := range states {
		var n int
		n, err = p.Queue.PurgeOlderThan(s.st, s.days, now, nil)
		if err != nil {
			return
		}
		if n > 0 {
			log.Infof("purged %d aged files from %s", n, s.st)
		}
	}

	if p.Cfg.RetentionOrphans > 0 {
		var live map[string]bool
		live, err = p.Store.LiveFiles(p.Cfg.CategoryTemplates)
		if err != nil {
			return
		}
		var n int
		n, err = p.Queue.PurgeOlderThan(queuedir.Processed, p.Cfg.RetentionOrphans, now, func(fpath string) bool {
			return live[fpath]
		})
		if n > 0 {
			log.Infof("purged %d orphaned files", n)
		}
	}
	return
}

// processed files whose linked record no longer exists, for the
// maintenance report
func (p *Pipeline) Orphans() (orphans []string, err error) {
	var live map[string]bool
	live, err = p.Store.LiveFiles(p.Cfg.CategoryTemplates)
	if err != nil {
		return
	}
	var files []string
	files, err = p.Queue.List(queuedir.Processed)
	if err != nil {
		return
	}
	for _, fpath := range files {
		if !live[fpath] {
			if _, serr := os.Stat(fpath); serr == nil {
				orphans = append(orphans, fpath)
			}
		}
	}
	return
}

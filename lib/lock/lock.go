package lock

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// default age after which a leftover lock is assumed to belong to a
// crashed run and is overridden
const DefaultStale = 15 * time.Minute

// file based mutual exclusion between scheduler ticks. the pipeline
// itself stays safe under a force cleared lock, atomic renames are the
// backstop; this only keeps well behaved ticks from overlapping.
type Lock struct {
	Path  string
	Stale time.Duration
}

// take the lock. a holder that looks stale is overridden once.
func (l *Lock) Acquire() (ok bool, err error) {
	ok, err = l.tryAcquire()
	if err != nil || ok {
		return
	}
	var info os.FileInfo
	info, err = os.Stat(l.Path)
	if err != nil {
		if os.IsNotExist(err) {
			// holder released between our attempts
			return l.tryAcquire()
		}
		return
	}
	stale := l.Stale
	if stale <= 0 {
		stale = DefaultStale
	}
	if time.Since(info.ModTime()) > stale {
		log.Warnf("overriding stale lock %s held since %s", l.Path, info.ModTime())
		os.Remove(l.Path)
		return l.tryAcquire()
	}
	return
}

func (l *Lock) tryAcquire() (ok bool, err error) {
	var f *os.File
	f, err = os.OpenFile(l.Path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0640)
	if err != nil {
		if os.IsExist(err) {
			err = nil
		}
		return
	}
	fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	f.Close()
	ok = true
	return
}

// release the lock after a run
func (l *Lock) Release() (err error) {
	err = os.Remove(l.Path)
	if os.IsNotExist(err) {
		err = nil
	}
	return
}

// operator unlock action: force clear whatever holds the lock
func (l *Lock) Clear() (err error) {
	err = l.Release()
	if err == nil {
		log.Infof("cleared lock %s", l.Path)
	}
	return
}

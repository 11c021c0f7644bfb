package model

import (
	"strings"
	"time"
)

// a routing target owned by the record store. received mail attaches
// to a destination by matching one of its address field values.
type Destination struct {
	Id int64 `xorm:"pk autoincr"`
	// category tag, matched against the configured category templates
	Category string `xorm:"index"`
	// address field name -> newline separated addresses
	Fields map[string]string `xorm:"json"`
	// soft deleted destinations no longer anchor received mail
	Trashed bool
	Created time.Time `xorm:"created"`
}

// check whether addr appears in any of the named address fields
func (d *Destination) Matches(fields []string, addr string) (ok bool) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if addr == "" {
		return
	}
	for _, name := range fields {
		for _, line := range strings.Split(strings.ToLower(d.Fields[name]), "\n") {
			if strings.TrimSpace(line) == addr {
				ok = true
				return
			}
		}
	}
	return
}

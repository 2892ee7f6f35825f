package speedtest

import (
	"io"
	"log"
	"os"
	"sync/atomic"
)

type Debug struct {
	dbg  *log.Logger
	flag atomic.Bool
}

func NewDebug() *Debug {
	return &Debug{dbg: log.New(os.Stdout, "[DBG]", log.Ldate|log.Ltime)}
}

func (d *Debug) Enable() {
	d.flag.Store(true)
}

func (d *Debug) SetOutput(w io.Writer) {
	d.dbg.SetOutput(w)
}

func (d *Debug) Printf(format string, v ...any) {
	if d.flag.Load() {
		d.dbg.Printf(format, v...)
	}
}

var dbg = NewDebug()

// EnableDebug turns on debug logging, optionally redirecting it to w.
func EnableDebug(w io.Writer) {
	if w != nil {
		dbg.SetOutput(w)
	}
	dbg.Enable()
}

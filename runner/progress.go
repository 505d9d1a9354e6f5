package runner

import (
	"fmt"
	"io"

	"github.com/gosuri/uilive"
)

// Progress keeps a single live status line on the terminal
type Progress struct {
	writer *uilive.Writer
}

func NewProgress(out io.Writer) *Progress {
	writer := uilive.New()
	writer.Out = out
	return &Progress{writer: writer}
}

func (p *Progress) Start() {
	if p == nil {
		return
	}
	p.writer.Start()
}

func (p *Progress) Update(format string, args ...interface{}) {
	if p == nil {
		return
	}
	fmt.Fprintf(p.writer, format+"\n", args...)
}

func (p *Progress) Stop() {
	if p == nil {
		return
	}
	p.writer.Stop()
}

package webhook

import "io"

// ProgressFunc receives upload progress as a percentage between 0 and 100.
type ProgressFunc func(percent int)

// progressReader reports how much of a request body the transport has consumed.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   int
	onStep ProgressFunc
}

func newProgressReader(r io.Reader, total int64, fn ProgressFunc) io.Reader {
	if fn == nil || total <= 0 {
		return r
	}
	fn(0)
	return &progressReader{r: r, total: total, onStep: fn}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	percent := int(p.read * 100 / p.total)
	if percent > 100 {
		percent = 100
	}
	if percent != p.last {
		p.last = percent
		p.onStep(percent)
	}
	return n, err
}

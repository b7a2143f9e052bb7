package scanners

import (
	"context"
	"regexp"

	"github.com/scanlab/bulkscan/internal/scanner"
)

var emailRE = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,6}`)

// contextWindow is how many bytes of surrounding data each finding carries.
const contextWindow = 16

// Email records RFC-822-shaped addresses as features. It demonstrates the
// feature-recording half of the scanner contract; the decompression
// scanners demonstrate recursion.
type Email struct{}

func NewEmail() *Email { return &Email{} }

func (e *Email) Name() string { return "email" }

func (e *Email) Scan(ctx context.Context, p *scanner.Params) error {
	if p.Phase != scanner.PhaseScan {
		return nil
	}
	data := p.Buf.Bytes()
	for _, m := range emailRE.FindAllIndex(data, -1) {
		// Matches may finish in the margin but must start in the page, or
		// the next page would record them again.
		if m[0] >= p.Buf.PageSize() {
			break
		}
		lo := m[0] - contextWindow
		if lo < 0 {
			lo = 0
		}
		hi := m[1] + contextWindow
		if hi > len(data) {
			hi = len(data)
		}
		if err := p.Record("email", uint64(m[0]), data[m[0]:m[1]], data[lo:hi]); err != nil {
			return err
		}
	}
	return nil
}

package phase1

import (
	"fmt"
	"time"

	"github.com/scanlab/bulkscan/internal/image"
)

// notifyUser prints a progress line every NotifyRate submitted pages:
// "HH:MM:SS <position> (<pct>%) Done in <remaining> at <clock>". Percentage
// and ETA are meaningless when sampling and are omitted there.
func (p *Phase1) notifyUser(it image.Iter) {
	p.notifyCtr++
	if p.notifyCtr < p.cfg.NotifyRate {
		return
	}
	p.notifyCtr = 0

	now := time.Now()
	if p.cfg.Sampling() {
		fmt.Printf("%s %s\n", now.Format("15:04:05"), it.Pos0())
		return
	}

	frac := it.FractionDone()
	remaining := p.etaRemaining(frac)
	fmt.Printf("%s %s (%5.2f%%) Done in %s at %s\n",
		now.Format("15:04:05"), it.Pos0(), frac*100,
		minsec(remaining), now.Add(remaining).Format("15:04:05"))
}

// etaRemaining extrapolates the remaining wall time from elapsed time and
// the fraction complete.
func (p *Phase1) etaRemaining(frac float64) time.Duration {
	if frac <= 0 {
		return 0
	}
	elapsed := time.Since(p.started)
	return time.Duration(float64(elapsed) * (1 - frac) / frac)
}

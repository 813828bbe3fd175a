package scheduler

import "time"

// MarketHours describes one market's regular trading session in UTC.
type MarketHours struct {
	Market      string
	OpenUTC     time.Duration // offset from midnight UTC
	CloseUTC    time.Duration
	WeekendOff  bool
}

// CadenceFunc builds a market-state-aware cadence function for the ranking
// refresh job: it tightens to baseCadence while any configured market is in
// its trading session, and relaxes to offHoursCadence (or 0 to skip
// entirely) when every configured market is closed.
func CadenceFunc(markets []MarketHours, baseCadence, offHoursCadence time.Duration, now func() time.Time) func() time.Duration {
	return func() time.Duration {
		n := now()
		if anyMarketOpen(markets, n) {
			return baseCadence
		}
		return offHoursCadence
	}
}

func anyMarketOpen(markets []MarketHours, now time.Time) bool {
	if len(markets) == 0 {
		return true
	}

	weekday := now.UTC().Weekday()
	sinceMidnight := time.Duration(now.UTC().Hour())*time.Hour + time.Duration(now.UTC().Minute())*time.Minute

	for _, m := range markets {
		if m.WeekendOff && (weekday == time.Saturday || weekday == time.Sunday) {
			continue
		}
		if sinceMidnight >= m.OpenUTC && sinceMidnight < m.CloseUTC {
			return true
		}
	}
	return false
}

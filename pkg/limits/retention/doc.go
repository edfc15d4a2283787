// Package retention prunes usage buckets that fell out of every rate limit window.
//
// Hour and day usage are summed from minute buckets, so a bucket is needed for 1440
// minutes after its window starts. The pruner keeps at least two days and deletes the
// rest on a cron schedule:
//
//	pruner := retention.NewPruner(ledger, &retention.Config{KeepDays: 2, Schedule: "17 * * * *"})
//	if err := pruner.Start(ctx); err != nil {
//	    return err
//	}
//	defer pruner.Stop()
//
// Ledgers that expire buckets on their own (Redis) report zero deletions.
package retention

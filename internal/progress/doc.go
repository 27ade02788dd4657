// Package progress provides aggregate progress reporting for a download pool.
//
// The reporter counts running, succeeded, skipped and failed downloads plus
// the bytes written, and prints a status line to stderr at a fixed interval.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalTasks: len(urls),
//	    Workers:    4,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
// The scheduler calls TaskStarted, BytesWritten and one of TaskSucceeded,
// TaskSkipped or TaskFailed for every task it runs.
//
// # Output Format
//
//	[dlpool] Downloads: 12 | Workers: 4
//	[dlpool] 1.2 GiB | Speed: 48 MiB/s | 5 done | 1 skipped | 0 failed | 4 running | 2 pending
//	[dlpool] 2.4 GiB in 51s | Average speed: 47 MiB/s
//	[dlpool] 11 succeeded | 1 skipped | 0 failed
package progress

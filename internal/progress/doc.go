// Package progress provides progress reporting for transfers.
//
// A Reporter is an io.Writer that only counts bytes. Placed behind an
// io.MultiWriter next to the destination file it logs percentage, speed
// and ETA through apex/log while the copy runs.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalSize: remoteSize,
//	    Phase:     "download",
//	    Logger:    logger,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	io.Copy(io.MultiWriter(file, reporter), body)
package progress

// Package downloader runs many HTTP downloads to local files with a bounded
// number in flight.
//
// # Usage
//
//	client := dlhttp.NewClient(dlhttp.DefaultOptions())
//	s, err := downloader.New(client, downloader.Options{Workers: 4})
//	if err != nil {
//	    return err
//	}
//	task, err := s.Submit(downloader.Request{
//	    URL:  "https://example.com/files/report.pdf",
//	    Dest: downloader.IntoDirectory("downloads"),
//	})
//	if err != nil {
//	    return err
//	}
//	<-task.Done()
//
// # Admission
//
// Tasks are admitted in submission order. A task holds its slot from the
// moment it starts until it is Succeeded, Skipped or Failed, and the freed
// slot goes to the oldest queued task. Submit returns immediately.
//
// # Destinations
//
// A destination is an explicit file (ToFile) or a directory (IntoDirectory)
// where the filename is taken from the last path segment of the URL and
// sanitized. An existing destination is skipped when Request.ExistOK is set
// and fails the task with ErrDestinationConflict otherwise; no request is
// made in either case. Only a regular file counts as existing: a directory
// or other non-regular entry at the destination fails the task with
// ErrDestinationNotFile whatever ExistOK says.
//
// # Failures
//
// A failed task never leaves a partial file behind. Fewer bytes than the
// server declared yields an *IncompleteTransferError. Fetch failures carry
// the kinds of the internal http package. One task failing has no effect on
// any other task.
package downloader

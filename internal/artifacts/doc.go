// Package artifacts renders the deliverable set for an approved-for-review
// job: a plain text transcript, SRT and VTT subtitles, and a structured JSON
// record. The set is written atomically per job directory; a partial failure
// removes everything emitted so far.
package artifacts

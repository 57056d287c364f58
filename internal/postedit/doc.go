// Package postedit refines raw transcriptions through a chat completion
// model. The model receives the editorial profile and the transcription as
// JSON and returns edited text, adjusted segments, and reviewer flags.
// Malformed model output falls back to the raw transcription rather than
// failing the job. Profiles may additionally request masking of personal
// data in the edited output.
package postedit

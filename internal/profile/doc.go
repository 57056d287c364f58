// Package profile loads editorial profiles from .prompt.txt definitions.
// A profile file carries YAML front matter (language, subtitle rules,
// post-edit options, disclaimers) followed by the prompt body handed to
// the post-edit model. Profiles are resolved from the inbox folder a
// file was dropped in, falling back to a configured default.
package profile

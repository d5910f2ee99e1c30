// Package notify turns new commits into the lines delivered to channels.
//
// Batches are capped to the most recent commits, grouped per branch and
// author, and optionally preceded by "pushed" headers. The package also
// extracts commit identifiers from conversational text for snarfing.
package notify

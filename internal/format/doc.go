// Package format renders commits through the template micro-language used by
// notification lines.
//
// A template is split on newlines and every template line yields one output
// line. Inside a line, "%" introduces a single-character substitution and
// "%(" opens a color code that runs until ")". Unknown substitutions are
// copied through without the "%", and a trailing "%" or an unterminated color
// code is dropped.
package format

package core

import "strings"

// Line renders a wire line: the command and its arguments joined by single spaces.
func Line(cmd string, args ...string) Frame {
	var b strings.Builder
	b.WriteString(cmd)
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	return Frame(b.String())
}

// Strings formats ids for a wire line.
func Strings[T interface{ String() string }](ids []T) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

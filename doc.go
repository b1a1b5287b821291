// Package metronome runs a command on a schedule.
//
// A receiver (package 'receiver') fetches a fact, a command (package
// 'command') prints what the receiver got, and an invoker (package
// 'invoker') fires the command every N seconds until its handle is
// stopped.  The program is in `cmd/metronome`.
package metronome

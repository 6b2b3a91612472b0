// Package prompt asks the user yes/no questions.
//
// Terminal renders an interactive huh form and falls back to the accessible
// line-based mode when stdin is not a terminal.
package prompt
